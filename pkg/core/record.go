package core

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/samplemind/samplemind-core/pkg/analysis"
	"github.com/samplemind/samplemind-core/pkg/hasher"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
	"github.com/samplemind/samplemind-core/pkg/vectorstore"
)

func vectorstoreUnavailable() error {
	return smerrors.New(smerrors.KindInvalidInput, "core", "vector store not configured")
}

// buildRecord turns an analysis result into a vector record. The id is
// derived from the content hash, so re-indexing the same audio updates
// the existing row instead of inserting a duplicate.
func buildRecord(path string, bundle *analysis.FeatureBundle, metadata map[string]any, dim int) (*vectorstore.Record, error) {
	contentHash, err := hasher.FileFingerprint(path, hasher.PolicyFast)
	if err != nil {
		return nil, err
	}
	embedding, err := vectorstore.FeatureEmbedding(bundle, dim)
	if err != nil {
		return nil, err
	}
	features, err := json.Marshal(bundle)
	if err != nil {
		return nil, smerrors.Wrap(err, smerrors.KindInternal, "core", "feature serialization failed")
	}

	var metadataJSON json.RawMessage = json.RawMessage("{}")
	if len(metadata) > 0 {
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return nil, smerrors.Wrap(err, smerrors.KindInvalidInput, "core", "metadata not serializable")
		}
	}

	return &vectorstore.Record{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(contentHash)).String(),
		AudioPath:   path,
		ContentHash: contentHash,
		SampleRate:  bundle.SampleRate,
		DurationS:   bundle.DurationS,
		Features:    features,
		Embedding:   embedding,
		Metadata:    metadataJSON,
	}, nil
}
