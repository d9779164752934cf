package wsola

import stderrors "errors"

var (
	errInvalidChannels          = stderrors.New("wsola: at least one channel is required")
	errMismatchedChannelLengths = stderrors.New("wsola: all channels must have equal length")
)
