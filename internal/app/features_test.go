package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/custodia-labs/sercha-rag/internal/core/domain"
)

// ingestionWorld carries state between the steps of one scenario
type ingestionWorld struct {
	providerURL string
	dir         string
	app         *App

	docPath   string
	docName   string
	job       *domain.IngestionJob
	submitErr error
	answer    *domain.Answer
}

func (w *ingestionWorld) anEmptyStack(ctx context.Context) error {
	dir, err := os.MkdirTemp("", "sercha-rag-bdd-")
	if err != nil {
		return err
	}
	w.dir = dir

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := Open(ctx, newTestConfig(w.providerURL), Options{Logger: logger})
	if err != nil {
		return err
	}
	w.app = a
	return nil
}

func (w *ingestionWorld) aDocumentOfLength(name string, n int) error {
	const phrase = "turtles all the way down. "
	return w.aDocumentContaining(name, strings.Repeat(phrase, n/len(phrase)+1)[:n])
}

func (w *ingestionWorld) aDocumentContaining(name, content string) error {
	w.docName = name
	w.docPath = filepath.Join(w.dir, name)
	return os.WriteFile(w.docPath, []byte(content), 0o600)
}

func (w *ingestionWorld) theDocumentIsSubmitted(ctx context.Context) error {
	w.job, w.submitErr = w.app.Ingestion.Submit(ctx, w.docPath, w.docName)
	return nil
}

func (w *ingestionWorld) theWorkerProcessesTheQueue(ctx context.Context) error {
	if w.submitErr != nil {
		return fmt.Errorf("submission failed: %w", w.submitErr)
	}

	worker := w.app.NewWorker()
	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := w.app.Ingestion.GetJob(ctx, w.job.ID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			w.job = job
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("job %s did not finish", w.job.ID)
}

func (w *ingestionWorld) theJobHasChunks(status string, chunks int) error {
	if string(w.job.Status) != status {
		return fmt.Errorf("expected status %s, got %s (%s)", status, w.job.Status, w.job.Error)
	}
	if w.job.ChunkCount != chunks {
		return fmt.Errorf("expected %d chunks, got %d", chunks, w.job.ChunkCount)
	}
	return nil
}

func (w *ingestionWorld) theJobHasAttempts(status string, attempts int) error {
	if string(w.job.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, w.job.Status)
	}
	if w.job.Attempts != attempts {
		return fmt.Errorf("expected %d attempts, got %d", attempts, w.job.Attempts)
	}
	return nil
}

func (w *ingestionWorld) theIndexHolds(ctx context.Context, n int) error {
	count, err := w.app.Index.Count(ctx)
	if err != nil {
		return err
	}
	if count != n {
		return fmt.Errorf("expected %d index entries, got %d", n, count)
	}
	return nil
}

func (w *ingestionWorld) iAsk(ctx context.Context, question string) error {
	return w.iAskWithK(ctx, question, 0)
}

func (w *ingestionWorld) iAskWithK(ctx context.Context, question string, k int) error {
	answer, err := w.app.Chat.Answer(ctx, question, domain.AnswerOptions{TopK: k})
	if err != nil {
		return err
	}
	w.answer = answer
	return nil
}

func (w *ingestionWorld) theAnswerIs(text string) error {
	if w.answer.Text != text {
		return fmt.Errorf("expected answer %q, got %q", text, w.answer.Text)
	}
	return nil
}

func (w *ingestionWorld) passagesAreCited(n int, source string) error {
	if len(w.answer.Documents) != n {
		return fmt.Errorf("expected %d passages, got %d", n, len(w.answer.Documents))
	}
	for _, doc := range w.answer.Documents {
		if doc.Source() != source {
			return fmt.Errorf("expected source %s, got %s", source, doc.Source())
		}
	}
	return nil
}

func (w *ingestionWorld) theSubmissionIsRejected() error {
	if !errors.Is(w.submitErr, domain.ErrUnsupportedFormat) {
		return fmt.Errorf("expected unsupported format, got %v", w.submitErr)
	}
	return nil
}

func (w *ingestionWorld) theQueueHoldsPending(ctx context.Context, n int) error {
	stats, err := w.app.Ingestion.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.PendingCount != int64(n) {
		return fmt.Errorf("expected %d pending jobs, got %d", n, stats.PendingCount)
	}
	return nil
}

func (w *ingestionWorld) close() {
	if w.app != nil {
		_ = w.app.Close()
	}
	if w.dir != "" {
		_ = os.RemoveAll(w.dir)
	}
}

func initializeScenario(providerURL string) func(*godog.ScenarioContext) {
	return func(sc *godog.ScenarioContext) {
		w := &ingestionWorld{providerURL: providerURL}

		sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
			w.close()
			return ctx, err
		})

		sc.Step(`^an empty in-process stack$`, w.anEmptyStack)
		sc.Step(`^a document "([^"]*)" containing (\d+) characters of text$`, w.aDocumentOfLength)
		sc.Step(`^a document "([^"]*)" containing "([^"]*)"$`, w.aDocumentContaining)
		sc.Step(`^the document is submitted$`, w.theDocumentIsSubmitted)
		sc.Step(`^the worker processes the queue$`, w.theWorkerProcessesTheQueue)
		sc.Step(`^the job is "([^"]*)" with (\d+) chunks$`, w.theJobHasChunks)
		sc.Step(`^the job is "([^"]*)" after (\d+) attempts?$`, w.theJobHasAttempts)
		sc.Step(`^the index holds (\d+) entries$`, w.theIndexHolds)
		sc.Step(`^I ask "([^"]*)"$`, w.iAsk)
		sc.Step(`^I ask "([^"]*)" with k (\d+)$`, w.iAskWithK)
		sc.Step(`^the answer is "([^"]*)"$`, w.theAnswerIs)
		sc.Step(`^(\d+) passages from "([^"]*)" are cited$`, w.passagesAreCited)
		sc.Step(`^the submission is rejected as unsupported$`, w.theSubmissionIsRejected)
		sc.Step(`^the queue holds (\d+) pending jobs$`, w.theQueueHoldsPending)
	}
}

func TestFeatures(t *testing.T) {
	providers := fakeProviders(t)

	suite := godog.TestSuite{
		Name:                "ingestion",
		ScenarioInitializer: initializeScenario(providers.URL),
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
