package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/signcrate/signcrate/internal/core"
)

// TaskKind names a unit of work scheduled by the orchestrator.
type TaskKind string

const (
	TaskFetchMetadata    TaskKind = "fetch-metadata"
	TaskFetchDocument    TaskKind = "fetch-document"
	TaskFetchCertificate TaskKind = "fetch-certificate"
	TaskFetchCombined    TaskKind = "fetch-combined"
)

// Task is one schedulable piece of per-envelope work.
type Task interface {
	Kind() TaskKind
	EnvelopeID() string
	Run(ctx context.Context) (Outcome, error)
}

// Outcome describes what a successful task produced.
type Outcome struct {
	Kind       TaskKind
	EnvelopeID string
	Path       string
	Bytes      int64
	Envelope   *core.Envelope
}

// Settled pairs a task with its final outcome.
type Settled struct {
	Task    Task
	Outcome Outcome
	Err     error
}

// SettleAll runs every task through gate and waits for all of them. Slots are
// claimed in task order. A failing task never cancels or short-circuits the
// others; results keep task order and always carry the task's envelope ID.
func SettleAll(ctx context.Context, gate *ConcurrencyGate, tasks []Task) []Settled {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]Settled, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		if err := gate.acquire(ctx, task); err != nil {
			results[i] = Settled{Task: task, Outcome: emptyOutcome(task), Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			out, err := gate.runHeld(ctx, task)
			results[i] = Settled{Task: task, Outcome: out, Err: err}
		}(i, task)
	}
	wg.Wait()

	return results
}

func emptyOutcome(task Task) Outcome {
	if task == nil {
		return Outcome{}
	}
	return Outcome{Kind: task.Kind(), EnvelopeID: task.EnvelopeID()}
}

type metadataTask struct {
	remote     Remote
	envelopeID string
}

func (t *metadataTask) Kind() TaskKind { return TaskFetchMetadata }

func (t *metadataTask) EnvelopeID() string { return t.envelopeID }

func (t *metadataTask) Run(ctx context.Context) (Outcome, error) {
	out := Outcome{Kind: TaskFetchMetadata, EnvelopeID: t.envelopeID}
	envelope, err := t.remote.GetEnvelope(ctx, t.envelopeID)
	if err != nil {
		return out, fmt.Errorf("fetch envelope %s: %w", t.envelopeID, err)
	}
	if envelope == nil {
		return out, fmt.Errorf("fetch envelope %s: empty response", t.envelopeID)
	}
	out.Envelope = envelope
	return out, nil
}

type documentTask struct {
	remote     Remote
	storage    Storage
	envelopeID string
	document   core.Document
	folder     string
	language   string
}

func (t *documentTask) Kind() TaskKind { return TaskFetchDocument }

func (t *documentTask) EnvelopeID() string { return t.envelopeID }

func (t *documentTask) Run(ctx context.Context) (Outcome, error) {
	out := Outcome{Kind: TaskFetchDocument, EnvelopeID: t.envelopeID}

	data, err := t.remote.DownloadDocument(ctx, t.envelopeID, t.document.DocumentID, core.DownloadOptions{
		Language:    t.language,
		Certificate: false,
	})
	if err != nil {
		return out, fmt.Errorf("download document %s: %w", t.document.DocumentID, err)
	}

	name := t.document.Name
	if name == "" {
		name = t.document.DocumentID
	}
	return writeArtifact(t.storage, out, filepath.Join(t.folder, SanitizeName(name+".pdf")), data)
}

type certificateTask struct {
	remote     Remote
	storage    Storage
	envelopeID string
	folder     string
	language   string
}

func (t *certificateTask) Kind() TaskKind { return TaskFetchCertificate }

func (t *certificateTask) EnvelopeID() string { return t.envelopeID }

func (t *certificateTask) Run(ctx context.Context) (Outcome, error) {
	out := Outcome{Kind: TaskFetchCertificate, EnvelopeID: t.envelopeID}

	data, err := t.remote.DownloadCertificate(ctx, t.envelopeID, core.DownloadOptions{Language: t.language})
	if err != nil {
		return out, fmt.Errorf("download certificate: %w", err)
	}

	filename := SanitizeName(fmt.Sprintf("Certificate_%s_%s.pdf", t.envelopeID, t.language))
	return writeArtifact(t.storage, out, filepath.Join(t.folder, filename), data)
}

type combinedTask struct {
	remote     Remote
	storage    Storage
	envelopeID string
	folder     string
	language   string
}

func (t *combinedTask) Kind() TaskKind { return TaskFetchCombined }

func (t *combinedTask) EnvelopeID() string { return t.envelopeID }

func (t *combinedTask) Run(ctx context.Context) (Outcome, error) {
	meta, err := (&metadataTask{remote: t.remote, envelopeID: t.envelopeID}).Run(ctx)
	if err != nil {
		return Outcome{Kind: TaskFetchCombined, EnvelopeID: t.envelopeID}, err
	}
	out := Outcome{Kind: TaskFetchCombined, EnvelopeID: t.envelopeID, Envelope: meta.Envelope}

	data, err := t.remote.DownloadCombined(ctx, t.envelopeID, core.DownloadOptions{
		Language:    t.language,
		Certificate: true,
	})
	if err != nil {
		return out, fmt.Errorf("download combined %s: %w", t.envelopeID, err)
	}

	filename := fmt.Sprintf("%s_%s_Combined.pdf", SanitizeName(t.envelopeID), SanitizeName(subjectOrDefault(meta.Envelope)))
	return writeArtifact(t.storage, out, filepath.Join(t.folder, filename), data)
}

func writeArtifact(storage Storage, out Outcome, path string, data []byte) (Outcome, error) {
	if storage == nil {
		return out, errors.New("storage is not configured")
	}
	written, err := storage.WriteFile(path, data)
	if err != nil {
		return out, fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	out.Path = path
	out.Bytes = written
	return out, nil
}
