// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package core

import (
	"context"
	"sync"

	"github.com/Thermoquad/ampere/pkg/calibration"
	"go.uber.org/zap"
)

// Maintenance persists calibrations off the tick goroutine
type Maintenance struct {
	store    calibration.Store
	log      *zap.Logger
	requests chan calibration.Blob

	mu      sync.Mutex
	saved   uint64
	dropped uint64
	lastErr error
}

// NewMaintenance creates a worker saving to store. A nil store keeps
// calibrations in memory only.
func NewMaintenance(store calibration.Store, log *zap.Logger) *Maintenance {
	if store == nil {
		store = &calibration.MemStore{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Maintenance{store: store, log: log, requests: make(chan calibration.Blob, 1)}
}

// SaveCalibration queues b without blocking. A newer blob replaces one
// still waiting.
func (w *Maintenance) SaveCalibration(b calibration.Blob) {
	for {
		select {
		case w.requests <- b:
			return
		default:
		}
		select {
		case <-w.requests:
			w.mu.Lock()
			w.dropped++
			w.mu.Unlock()
		default:
		}
	}
}

// Run saves queued blobs until ctx is done
func (w *Maintenance) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-w.requests:
			w.save(b)
		}
	}
}

func (w *Maintenance) save(b calibration.Blob) {
	err := w.store.Save(&b)
	w.mu.Lock()
	w.lastErr = err
	if err == nil {
		w.saved++
	}
	w.mu.Unlock()
	if err != nil {
		w.log.Error("calibration save failed", zap.Error(err))
		return
	}
	w.log.Info("calibration saved")
}

// Saved returns how many blobs were stored and how many were superseded
// before they could be
func (w *Maintenance) Saved() (saved, dropped uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saved, w.dropped
}

// Err returns the result of the last save
func (w *Maintenance) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}
