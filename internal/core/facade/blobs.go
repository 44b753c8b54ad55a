package facade

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/storage/blobstore"
	"github.com/nightslayer18/skeenode-contracts/pkg/hashing"
)

// blobRefMarker is the inline JSON a payload is replaced with once it's
// been offloaded. inflate treats any JSON object whose "__blobstore_ref__"
// key holds a non-empty string as such a marker, so a caller's own body of
// that shape is looked up in the blob store as well.
type blobRefMarker struct {
	Ref string `json:"__blobstore_ref__"`
}

// WithBlobstore installs a blob store and the size threshold past which a
// request_body/result_body/error is offloaded to it instead of kept inline
// (§9 DOMAIN STACK: payload overflow). Returns f for chaining.
func (f *Facade) WithBlobstore(store blobstore.Store, thresholdBytes int) *Facade {
	f.blobs = store
	f.blobThreshold = thresholdBytes
	return f
}

// offload replaces data with a blob reference if it exceeds the configured
// threshold, leaving it untouched otherwise (or if no blob store is wired).
// The key is content-addressed (derived from data itself) so that
// resubmitting an identical oversized request_body yields the same marker,
// and with it the same request_hash, preserving put-job!'s idempotency
// check (§4.3) even though the job row never sees the original bytes.
func (f *Facade) offload(ctx context.Context, keyHint string, data model.JSON) (model.JSON, error) {
	if f.blobs == nil || f.blobThreshold <= 0 || len(data) <= f.blobThreshold {
		return data, nil
	}

	key := fmt.Sprintf("%s-%s.json", keyHint, hashing.RequestHash(data))
	ref, err := f.blobs.Put(ctx, key, data)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "offload payload to blobstore", err)
	}

	marker, err := json.Marshal(blobRefMarker{Ref: ref})
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "marshal blob reference", err)
	}
	return model.JSON(marker), nil
}

// inflate resolves data back to its original bytes if it's one of our blob
// references, leaving any other payload untouched.
func (f *Facade) inflate(ctx context.Context, data model.JSON) (model.JSON, error) {
	if f.blobs == nil || len(data) == 0 {
		return data, nil
	}

	var marker blobRefMarker
	if err := json.Unmarshal(data, &marker); err != nil || marker.Ref == "" {
		return data, nil
	}

	raw, err := f.blobs.Get(ctx, marker.Ref)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "inflate payload from blobstore", err)
	}
	return model.JSON(raw), nil
}

// offloadSubmission recursively offloads a job submission's request body
// and every nested dependency's, in place.
func (f *Facade) offloadSubmission(ctx context.Context, sub *model.JobSubmission) error {
	body, err := f.offload(ctx, "job-"+sub.JobID.String(), sub.RequestBody)
	if err != nil {
		return err
	}
	sub.RequestBody = body

	for i := range sub.Dependencies {
		if sub.Dependencies[i].Job != nil {
			if err := f.offloadSubmission(ctx, sub.Dependencies[i].Job); err != nil {
				return err
			}
		}
	}
	return nil
}

// inflateJobView resolves a JobView's request body back to its original form.
func (f *Facade) inflateJobView(ctx context.Context, v *model.JobView) error {
	if v == nil {
		return nil
	}
	body, err := f.inflate(ctx, v.RequestBody)
	if err != nil {
		return err
	}
	v.RequestBody = body
	return nil
}

// inflateContractView resolves a ContractView's request body and every
// dependency's request/result bodies back to their original forms.
func (f *Facade) inflateContractView(ctx context.Context, v *model.ContractView) error {
	if v == nil {
		return nil
	}
	body, err := f.inflate(ctx, v.RequestBody)
	if err != nil {
		return err
	}
	v.RequestBody = body

	for i := range v.Dependencies {
		reqBody, err := f.inflate(ctx, v.Dependencies[i].RequestBody)
		if err != nil {
			return err
		}
		v.Dependencies[i].RequestBody = reqBody

		resBody, err := f.inflate(ctx, v.Dependencies[i].ResultBody)
		if err != nil {
			return err
		}
		v.Dependencies[i].ResultBody = resBody
	}
	return nil
}

// offloadErrorMessage offloads a completion's error text the same way as a
// JSON body, since an oversized stack trace or log tail is exactly the kind
// of payload the blob threshold exists to catch.
func (f *Facade) offloadErrorMessage(ctx context.Context, keyHint, errMsg string) (string, error) {
	if f.blobs == nil || f.blobThreshold <= 0 || len(errMsg) <= f.blobThreshold {
		return errMsg, nil
	}

	key := fmt.Sprintf("%s-error-%s.txt", keyHint, hashing.RequestHash([]byte(errMsg)))
	ref, err := f.blobs.Put(ctx, key, []byte(errMsg))
	if err != nil {
		return "", model.WrapError(model.KindInternal, "offload error message to blobstore", err)
	}

	marker, err := json.Marshal(blobRefMarker{Ref: ref})
	if err != nil {
		return "", model.WrapError(model.KindInternal, "marshal blob reference", err)
	}
	return string(marker), nil
}
