package obs

import (
	"fmt"

	"github.com/rs/zerolog"
)

// AsynqLogger adapts zerolog to the asynq.Logger interface.
type AsynqLogger struct {
	Logger zerolog.Logger
}

func (l AsynqLogger) Debug(args ...any) { l.Logger.Debug().Msg(fmt.Sprint(args...)) }
func (l AsynqLogger) Info(args ...any)  { l.Logger.Info().Msg(fmt.Sprint(args...)) }
func (l AsynqLogger) Warn(args ...any)  { l.Logger.Warn().Msg(fmt.Sprint(args...)) }
func (l AsynqLogger) Error(args ...any) { l.Logger.Error().Msg(fmt.Sprint(args...)) }
func (l AsynqLogger) Fatal(args ...any) { l.Logger.Fatal().Msg(fmt.Sprint(args...)) }
