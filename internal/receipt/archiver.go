// Package receipt archives order confirmations to object storage.
package receipt

import (
	"bytes"
	"context"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

var _ checkout.Observer = (*Archiver)(nil)

// PutObjectAPI is the part of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds archive settings.
type Config struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string
	Timeout  time.Duration
}

// Archiver writes one JSON receipt per confirmed order.
type Archiver struct {
	client  PutObjectAPI
	bucket  string
	prefix  string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewS3Archiver builds an Archiver over the default AWS credential chain.
func NewS3Archiver(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("receipt bucket is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg), nil
}

// New creates an Archiver over client.
func New(client PutObjectAPI, cfg Config) *Archiver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Archiver{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
	}
}

// Observe implements checkout.Observer. Confirmed orders are archived in the
// background; other events are ignored. Events arriving after Close are
// dropped with a warning.
func (a *Archiver) Observe(ctx context.Context, e checkout.Event) {
	if e.Type != checkout.EventOrderConfirmed {
		return
	}
	lg := zctx.From(ctx)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		lg.Warn("Receipt archiver closed, dropping receipt", zap.String("order", e.OrderNumber))
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.Archive(archiveCtx, e); err != nil {
			lg.Warn("Archive receipt failed",
				zap.String("order", e.OrderNumber),
				zap.Error(err),
			)
		}
	}()
}

// Archive writes the receipt of the confirmed order described by e.
func (a *Archiver) Archive(ctx context.Context, e checkout.Event) error {
	if e.OrderNumber == "" {
		return errors.New("event has no order number")
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(e)),
		Body:        bytes.NewReader(encodeReceipt(e)),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Wrap(err, "put object")
	}
	return nil
}

// Key returns the object key of the receipt for e:
// <prefix>/<yyyy>/<mm>/<dd>/<orderNumber>.json.
func (a *Archiver) Key(e checkout.Event) string {
	at := e.At.UTC()
	return path.Join(a.prefix, at.Format("2006/01/02"), e.OrderNumber+".json")
}

// Close stops accepting receipts and waits for pending uploads.
func (a *Archiver) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}

func encodeReceipt(e checkout.Event) []byte {
	var w jx.Encoder
	w.ObjStart()
	w.FieldStart("orderNumber")
	w.Str(e.OrderNumber)
	w.FieldStart("draftId")
	w.Str(e.DraftID)
	w.FieldStart("total")
	w.Str(e.Total.StringFixed(2))
	w.FieldStart("paymentMethod")
	w.Str(string(e.PaymentMethod))
	w.FieldStart("confirmedAt")
	w.Str(e.At.UTC().Format(time.RFC3339))
	w.ObjEnd()
	return w.Bytes()
}
