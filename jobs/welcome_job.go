// Package jobs holds the application's job classes: one file per handler,
// each registering itself with internal/jobregistry from an init func the
// way the teacher's own handlers self-register with their router.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/outpostlabs/jobengine/internal/jobcore"
	"github.com/outpostlabs/jobengine/internal/jobregistry"
)

// WelcomeJob stands in for a welcome email to a newly signed-up address:
// it logs the recipient and sends nothing. Its
// Perform argument is the raw JSON-encoded recipient email string, e.g.
// "a@x.com".
type WelcomeJob struct {
	Logger *slog.Logger
}

func (j *WelcomeJob) Perform(ctx context.Context, args []byte) error {
	var email string
	if err := json.Unmarshal(args, &email); err != nil {
		return fmt.Errorf("unmarshal welcome job args: %w", err)
	}

	j.Logger.InfoContext(ctx, "welcome email sent", "email", email)
	return nil
}

// Welcome is the fluent handle used by application code:
// jobs.Welcome.PerformLater(ctx, json.RawMessage(`"a@x.com"`)).
var Welcome *jobcore.Handle

func init() {
	jobregistry.Register(jobregistry.Class{
		Handler:     "WelcomeJob",
		Queue:       "default",
		Priority:    50,
		MaxAttempts: 24,
		New: func() jobcore.Job {
			return &WelcomeJob{Logger: slog.Default()}
		},
	})
	Welcome = jobregistry.MustFor("WelcomeJob")
}
