package usecase

import (
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

type noopObserver struct{}

func (noopObserver) ObserveSearchAttempt(domain.AttemptOutcome)  {}
func (noopObserver) ObserveSearchBatch(int, int, int)            {}
func (noopObserver) ObserveSynthesisAttempts(string, int, error) {}
func (noopObserver) ObserveCitations(int)                        {}
func (noopObserver) ObservePipeline(string, time.Duration)       {}
