package bulk

import "github.com/otxnet/otxd/logger"

var log, _ = logger.Get(logger.SubsystemTags.BULK)
