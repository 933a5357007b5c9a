package service

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"restaurant-verify/internal/ratelimit"
	"restaurant-verify/internal/repository/postgres"
	"restaurant-verify/internal/util"
)

const (
	cleanupInterval = 10 * time.Minute
	cleanupJitter   = 2 * time.Minute
)

// retiredRetention keeps retired rows long enough that deleting them
// cannot hand rate-limit quota back early.
const retiredRetention = 2 * ratelimit.PhoneWindow

// CleanupWorker deletes retired challenge rows off the hot path. The
// interval is jittered so a fleet of replicas does not sweep in step.
type CleanupWorker struct {
	challenges postgres.ChallengeRepository
	done       chan struct{}
	stopped    chan struct{}
}

func NewCleanupWorker(challenges postgres.ChallengeRepository) *CleanupWorker {
	return &CleanupWorker{
		challenges: challenges,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

func (w *CleanupWorker) Start() {
	go w.run()
}

func (w *CleanupWorker) run() {
	defer close(w.stopped)
	for {
		interval := cleanupInterval + time.Duration(rand.Int63n(int64(cleanupJitter)))
		select {
		case <-time.After(interval):
			w.sweep()
		case <-w.done:
			return
		}
	}
}

func (w *CleanupWorker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := w.challenges.DeleteRetired(ctx, retiredRetention)
	if err != nil {
		util.Warn("Challenge cleanup sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		util.Info("Deleted retired challenges", zap.Int64("count", deleted))
	}
}

func (w *CleanupWorker) Stop() {
	close(w.done)
	<-w.stopped
}
