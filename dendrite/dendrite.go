// Package dendrite is the signing HTTP client a validator uses to
// reach miner axons.
package dendrite

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/epistula"
	"github.com/grigorimaxim422/atom/monitor"
	"github.com/grigorimaxim422/atom/wallet"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// maxResponseBytes caps how much of a miner response is read.
const maxResponseBytes = 64 << 20

// Target is one axon endpoint to query. Hotkey is the receiver's ss58
// address the request gets signed for.
type Target struct {
	UID    common.UID
	Hotkey string
	Addr   string
}

// Response is the outcome of one query. Err covers transport and
// signing failures; HTTP error statuses land in Status with the body
// kept, since scoring wants to see them.
type Response struct {
	Target  Target
	Status  int
	Body    []byte
	Elapsed time.Duration
	Err     error
}

func (self *Response) OK() bool {
	return self.Err == nil && self.Status >= 200 && self.Status < 300
}

// Dendrite signs every request with the validator hotkey, addressed to
// the target miner.
type Dendrite struct {
	signer  *epistula.Signer
	client  *http.Client
	timeout time.Duration
	limit   int
}

func New(kp wallet.Keypair, cfg config.Dendrite, ss58Prefix uint16) *Dendrite {
	return &Dendrite{
		signer: epistula.NewSigner(kp, ss58Prefix),
		client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}},
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		limit:   cfg.MaxConcurrency,
	}
}

// Query posts body to one axon. The context bounds the whole exchange
// on top of the configured per-call timeout.
func (self *Dendrite) Query(ctx context.Context, target Target, path string, body []byte) (*Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, self.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+target.Addr+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if err := self.signer.Apply(req, body, target.Hotkey); err != nil {
		return nil, errors.Wrap(err, "sign request")
	}

	resp, err := self.client.Do(req)
	if err != nil {
		monitor.LogEvent("dendrite", "error")
		return nil, errors.Wrapf(err, "query %s", target.Addr)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		monitor.LogEvent("dendrite", "error")
		return nil, errors.Wrapf(err, "read response from %s", target.Addr)
	}

	monitor.LogTime("dendrite", "query", start)
	return &Response{
		Target:  target,
		Status:  resp.StatusCode,
		Body:    data,
		Elapsed: time.Since(start),
	}, nil
}

// QueryAll fans body out to every target, at most MaxConcurrency in
// flight. Results keep target order; per-target failures land in
// Response.Err instead of aborting the batch.
func (self *Dendrite) QueryAll(ctx context.Context, targets []Target, path string, body []byte) []*Response {
	out := make([]*Response, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(self.limit)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			resp, err := self.Query(ctx, target, path, body)
			if err != nil {
				resp = &Response{Target: target, Err: err}
			}
			out[i] = resp
			return nil
		})
	}
	g.Wait()
	return out
}
