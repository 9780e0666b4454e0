package dataplane

import (
	"errors"

	"github.com/ciscoittech/pingtopass-dataplane/cache"
	"github.com/ciscoittech/pingtopass-dataplane/query"
	"github.com/ciscoittech/pingtopass-dataplane/region"
	"github.com/ciscoittech/pingtopass-dataplane/storage"
)

// ErrInvalidConfig is returned when the dataplane configuration is invalid.
var ErrInvalidConfig = errors.New("invalid dataplane configuration")

// ErrNotFound is returned when a key is not found in the shared layer.
var ErrNotFound = storage.ErrNotFound

// ErrRoutingFailure is returned when every read candidate, including
// the primary, has failed.
var ErrRoutingFailure = region.ErrRoutingFailure

// ErrRegionUnavailable is returned by strict-affinity reads when the
// required region cannot serve.
var ErrRegionUnavailable = region.ErrRegionUnavailable

// ErrWriteFailure is returned when the primary rejects or cannot
// execute a mutation.
var ErrWriteFailure = query.ErrWriteFailure

// ErrUnknownEntity is returned for writes naming an entity type with
// no invalidation mapping.
var ErrUnknownEntity = query.ErrUnknownEntity

// ErrClosed is returned when operations are performed on a closed
// dataplane.
var ErrClosed = cache.ErrClosed
