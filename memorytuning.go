/*
 * SPDX-License-Identifier: AGPL-3.0-only
 *
 * Copyright (c) 2025 sycured
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/bytedance/gopkg/util/gctuner"
	"go.uber.org/zap"
)

// tuneGC feeds the cgroup- or host-derived memory limit into gctuner so the
// Go runtime's GC pacing reacts to actual container memory pressure instead
// of the default GOGC heuristic, which otherwise over-collects in small
// containers and under-collects in large ones. threshold is the fraction of
// the detected limit gctuner is allowed to grow the heap toward.
func tuneGC(logger *zap.Logger, threshold float64) {
	limit, err := getMemoryLimit()
	if err != nil {
		logger.Warn("could not determine memory limit, GC auto-tuning disabled", zap.Error(err))
		return
	}

	target := uint64(float64(limit) * threshold)
	gctuner.Tuning(target)
	logger.Info("GC auto-tuning enabled", zap.Int64("detected_memory_limit", limit), zap.Uint64("gc_target", target))
}

// runMRelease periodically forces unused heap pages back to the OS
// (IMGFORGE_MRELEASE, the teacher's -mrelease flag), which matters for an
// image server whose working set is bursty: libvips-backed buffers inflate
// the heap well past steady-state between requests.
func runMRelease(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			debug.FreeOSMemory()
		}
	}
}
