package common_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portfolio-bff/internal/common"
)

// ExampleRun drives the machine the way the GitHub executor does: a
// rate-limited response is retried after the reset without using up an attempt.
func ExampleRun() {
	responses := []common.Outcome{
		{Kind: common.OutcomeRateLimited, Wait: 2 * time.Second},
		{Kind: common.OutcomeResponse},
	}
	var slept []time.Duration

	step, err := common.Run(context.Background(),
		func(ctx context.Context, n int) common.Outcome {
			o := responses[0]
			responses = responses[1:]
			return o
		},
		common.WithSleeper(func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}),
	)

	fmt.Println(step.State, step.Attempt, step.RateLimitWaits, slept, err)
	// Output: succeeded 1 1 [3s] <nil>
}

// ExampleDo_withOptions demonstrates retry with custom configuration.
func ExampleDo_withOptions() {
	ctx := context.Background()

	attempts := 0
	err := common.Do(ctx,
		func() error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary failure")
			}
			return nil
		},
		common.WithMaxRetries(5),
		common.WithInitialDelay(time.Millisecond),
		common.WithMaxDelay(10*time.Millisecond),
	)

	fmt.Println(attempts, err)
	// Output: 3 <nil>
}

// ExampleTransition walks the state machine through a rate-limited attempt.
func ExampleTransition() {
	cfg := common.NewConfig()

	step := common.Start()
	step = common.Transition(cfg, step, common.Outcome{Kind: common.OutcomeRateLimited, Wait: 10 * time.Second})
	fmt.Println(step.State, step.Attempt, step.Delay)

	step = common.Transition(cfg, step, common.Outcome{Kind: common.OutcomeWaitElapsed})
	fmt.Println(step.State, step.Attempt)

	step = common.Transition(cfg, step, common.Outcome{Kind: common.OutcomeResponse})
	fmt.Println(step.State)
	// Output:
	// waiting_rate_limit 1 11s
	// attempting 1
	// succeeded
}

// ExampleDo_contextTimeout demonstrates using retry with context timeout.
func ExampleDo_contextTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := common.Do(ctx,
		func() error {
			return errors.New("temporary failure")
		},
		common.WithMaxRetries(10),
		common.WithInitialDelay(50*time.Millisecond),
	)

	fmt.Println(errors.Is(err, context.DeadlineExceeded))
	// Output: true
}
