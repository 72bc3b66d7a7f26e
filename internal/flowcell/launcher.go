package flowcell

import (
	"context"
	"fmt"

	"github.com/harrison/fcsort/internal/builder"
	"github.com/harrison/fcsort/internal/models"
)

// Launcher receives the organized projects once a batch succeeds.
type Launcher interface {
	Launch(ctx context.Context, projects []*models.Project) error
}

// LoggingLauncher only logs which projects are ready for analysis.
type LoggingLauncher struct {
	Logger builder.Logger
}

func (l *LoggingLauncher) Launch(_ context.Context, projects []*models.Project) error {
	if l.Logger == nil {
		return nil
	}
	for _, p := range projects {
		l.Logger.LogInfo(fmt.Sprintf("Project %s (%s) is ready for analysis: %d sample(s) in %s",
			p.Name, p.ID, len(p.Samples()), p.Dir()))
	}
	return nil
}
