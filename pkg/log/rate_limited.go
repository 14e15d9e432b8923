// Copyright 2022 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// LimitedLogger is a Logger that emits at most one message per interval and
// counts the ones it swallows.
type LimitedLogger struct {
	logger     Logger
	atDepth    depthLogger
	limit      *rate.Limiter
	suppressed atomic.Uint64
}

// depthLogger is implemented by loggers that can attribute a message to a
// caller further up the stack, such as *BasicLogger.
type depthLogger interface {
	DebugfAtDepth(depth int, format string, v ...any)
	InfofAtDepth(depth int, format string, v ...any)
	WarningfAtDepth(depth int, format string, v ...any)
}

func (rl *LimitedLogger) allow() bool {
	if rl.limit.Allow() {
		return true
	}
	rl.suppressed.Add(1)
	return false
}

// Debugf implements Logger.Debugf.
func (rl *LimitedLogger) Debugf(format string, v ...any) {
	if !rl.allow() {
		return
	}
	if rl.atDepth != nil {
		rl.atDepth.DebugfAtDepth(1, format, v...)
	} else {
		rl.logger.Debugf(format, v...)
	}
}

// Infof implements Logger.Infof.
func (rl *LimitedLogger) Infof(format string, v ...any) {
	if !rl.allow() {
		return
	}
	if rl.atDepth != nil {
		rl.atDepth.InfofAtDepth(1, format, v...)
	} else {
		rl.logger.Infof(format, v...)
	}
}

// Warningf implements Logger.Warningf.
func (rl *LimitedLogger) Warningf(format string, v ...any) {
	if !rl.allow() {
		return
	}
	if rl.atDepth != nil {
		rl.atDepth.WarningfAtDepth(1, format, v...)
	} else {
		rl.logger.Warningf(format, v...)
	}
}

// IsLogging implements Logger.IsLogging.
func (rl *LimitedLogger) IsLogging(level Level) bool {
	return rl.logger.IsLogging(level)
}

// Suppressed returns and resets the number of messages dropped since the
// last call.
func (rl *LimitedLogger) Suppressed() uint64 {
	return rl.suppressed.Swap(0)
}

// BasicRateLimitedLogger returns a LimitedLogger over the global logger.
func BasicRateLimitedLogger(every time.Duration) *LimitedLogger {
	return RateLimitedLogger(Log(), every)
}

// RateLimitedLogger returns a LimitedLogger that lets one message through
// per every.
func RateLimitedLogger(logger Logger, every time.Duration) *LimitedLogger {
	rl := &LimitedLogger{
		logger: logger,
		limit:  rate.NewLimiter(rate.Every(every), 1),
	}
	rl.atDepth, _ = logger.(depthLogger)
	return rl
}
