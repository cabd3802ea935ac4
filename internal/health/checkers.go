package health

import (
	"context"
	"errors"

	"github.com/MrWong99/auralyze/pkg/classifier"
)

// Pinger is implemented by dependencies that can verify their own
// reachability, such as the PostgreSQL store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports p's Ping result under name.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ClassifierCheck pings c when it implements [classifier.Pinger]. Local
// classifiers without a Ping method are always ready.
func ClassifierCheck(c classifier.Classifier) Checker {
	return Checker{
		Name: "classifier",
		Check: func(ctx context.Context) error {
			if p, ok := c.(classifier.Pinger); ok {
				return p.Ping(ctx)
			}
			return nil
		},
	}
}

// FlagCheck fails with err whenever bad reports true. It suits conditions
// tracked as a flag elsewhere, like a degraded result recorder or a server
// that has started draining.
func FlagCheck(name string, bad func() bool, err error) Checker {
	if err == nil {
		err = errors.New(name + " unhealthy")
	}
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if bad() {
				return err
			}
			return nil
		},
	}
}
