package src

// Logger is the structured logger used across the storage core. It is
// satisfied by *zap.SugaredLogger.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)

	Error(args ...any)

	Sync() error
}
