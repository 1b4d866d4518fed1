// Copyright 2025 Poiesic Systems
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

package reindex

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrInvalidAttempts is returned when fewer than one attempt is requested.
var ErrInvalidAttempts = errors.New("attempts must be greater than 0")

// retry calls op up to attempts times, doubling the pause after each
// failure starting from base. It returns the last error of op, or the
// context error if ctx ends first.
func retry(ctx context.Context, attempts int, base time.Duration, op func() error) error {
	if attempts <= 0 {
		return ErrInvalidAttempts
	}

	delay := base
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = op(); err == nil {
			return nil
		}
		if attempt == attempts {
			return err
		}
		slog.Debug("embedding attempt failed", "attempt", attempt, "of", attempts, "retry_in", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
