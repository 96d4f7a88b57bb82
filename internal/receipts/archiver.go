// Package receipts archives completed-sale invoices to blob storage in the
// background so checkout never waits on the archive backend.
package receipts

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tillcore/internal/blob"
	"tillcore/internal/core"
)

// ArchiveStatus describes the lifecycle stage of an archive request.
type ArchiveStatus string

const (
	ArchiveStatusQueued    ArchiveStatus = "queued"
	ArchiveStatusRunning   ArchiveStatus = "running"
	ArchiveStatusSucceeded ArchiveStatus = "succeeded"
	ArchiveStatusFailed    ArchiveStatus = "failed"
)

// ArchiveRecord tracks one archive request and its stored artifact.
type ArchiveRecord struct {
	ID          string        `json:"id"`
	SaleID      string        `json:"sale_id"`
	Key         string        `json:"key,omitempty"`
	Status      ArchiveStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	SizeBytes   int64         `json:"size_bytes,omitempty"`
	URL         string        `json:"url,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

func (r ArchiveRecord) copy() ArchiveRecord {
	out := r
	if r.CompletedAt != nil {
		completed := *r.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

type archiveTask struct {
	id      string
	invoice core.Invoice
}

// Archiver renders invoices to JSON and stores them through a blob store.
// One goroutine drains the queue; enqueue fails fast when the queue is full
// rather than blocking checkout.
type Archiver struct {
	store blob.Store

	queue chan archiveTask
	mu    sync.RWMutex
	jobs  map[string]*ArchiveRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nowFn  func() time.Time
}

// NewArchiver constructs an archiver writing through the provided blob store.
func NewArchiver(store blob.Store) *Archiver {
	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		store:  store,
		queue:  make(chan archiveTask, 32),
		jobs:   make(map[string]*ArchiveRecord),
		ctx:    ctx,
		cancel: cancel,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// Start begins processing archive requests.
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.loop()
}

// Stop signals the archiver to halt and waits for in-flight work.
func (a *Archiver) Stop(ctx context.Context) error {
	a.cancel()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Archiver) loop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case task := <-a.queue:
			a.process(task)
		}
	}
}

// EnqueueInvoice schedules an invoice for archival and returns the queued
// record.
func (a *Archiver) EnqueueInvoice(invoice core.Invoice) (ArchiveRecord, error) {
	if a.store == nil {
		return ArchiveRecord{}, fmt.Errorf("archive store not configured")
	}
	if invoice.SaleID == "" {
		return ArchiveRecord{}, fmt.Errorf("invoice sale id required")
	}

	now := a.nowFn()
	record := ArchiveRecord{
		ID:        newID(),
		SaleID:    invoice.SaleID,
		Status:    ArchiveStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	a.mu.Lock()
	a.jobs[record.ID] = &record
	queued := record.copy()
	a.mu.Unlock()

	select {
	case a.queue <- archiveTask{id: record.ID, invoice: invoice}:
	default:
		a.fail(record.ID, "archive queue full")
		return ArchiveRecord{}, fmt.Errorf("archive queue full")
	}
	return queued, nil
}

// GetArchive returns a snapshot of the archive record.
func (a *Archiver) GetArchive(id string) (ArchiveRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	record, ok := a.jobs[id]
	if !ok {
		return ArchiveRecord{}, false
	}
	return record.copy(), true
}

// ListArchives returns snapshots of all archive records for a sale.
func (a *Archiver) ListArchives(saleID string) []ArchiveRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []ArchiveRecord
	for _, record := range a.jobs {
		if record.SaleID == saleID {
			out = append(out, record.copy())
		}
	}
	return out
}

func (a *Archiver) process(task archiveTask) {
	a.setStatus(task.id, ArchiveStatusRunning, "")

	payload, err := json.MarshalIndent(task.invoice, "", "  ")
	if err != nil {
		a.fail(task.id, fmt.Sprintf("encode invoice: %v", err))
		return
	}

	key := archiveKey(task.invoice)
	info, err := a.store.Put(a.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"sale_id": task.invoice.SaleID},
	})
	if err != nil {
		a.fail(task.id, fmt.Sprintf("store receipt: %v", err))
		return
	}

	now := a.nowFn()
	a.mu.Lock()
	if record, ok := a.jobs[task.id]; ok {
		record.Status = ArchiveStatusSucceeded
		record.Key = info.Key
		record.SizeBytes = info.Size
		record.URL = info.URL
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
	a.mu.Unlock()
}

func (a *Archiver) setStatus(id string, status ArchiveStatus, errMsg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if record, ok := a.jobs[id]; ok {
		record.Status = status
		record.Error = errMsg
		record.UpdatedAt = a.nowFn()
	}
}

func (a *Archiver) fail(id string, reason string) {
	now := a.nowFn()
	a.mu.Lock()
	defer a.mu.Unlock()
	if record, ok := a.jobs[id]; ok {
		record.Status = ArchiveStatusFailed
		record.Error = reason
		record.UpdatedAt = now
		record.CompletedAt = &now
	}
}

// archiveKey partitions receipts by issue date so buckets stay listable.
func archiveKey(invoice core.Invoice) string {
	issued := invoice.IssuedAt
	if issued.IsZero() {
		issued = time.Now().UTC()
	}
	return fmt.Sprintf("receipts/%04d/%02d/%s.json", issued.Year(), issued.Month(), invoice.SaleID)
}

func newID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
