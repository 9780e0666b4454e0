package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ciscoittech/pingtopass-dataplane/cache"
	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// EntityType names a writable entity in the exam domain. Every write
// names its entity so the invalidator can purge derived cache entries.
type EntityType string

// Writable entity types.
const (
	EntityExam         EntityType = "exam"
	EntityQuestion     EntityType = "question"
	EntityObjective    EntityType = "objective"
	EntityExamProgress EntityType = "examProgress"
	EntityAnswer       EntityType = "answer"
	EntityStudySession EntityType = "studySession"
	EntityTestAttempt  EntityType = "testAttempt"
)

// prefixTable maps each entity type to the cache-key prefixes that can
// hold results derived from it. This table is the single declaration
// of "what must be invalidated when X changes"; an entity missing a
// derived prefix here silently serves stale data, so every entry is
// covered by tests and every write path must name an entity in it.
var prefixTable = map[EntityType]func(key string) []string{
	EntityExam: func(id string) []string {
		return []string{
			Prefix("examById", "id", id),
			Prefix("examList"),
			Prefix("questionsByExam", "examId", id),
			Prefix("examStats", "examId", id),
		}
	},
	EntityQuestion: func(id string) []string {
		return []string{
			Prefix("questionById", "id", id),
			// A question edit cannot know its exam from the id alone;
			// dropping all per-exam question lists is coarse but
			// correct, and question edits are rare.
			Prefix("questionsByExam"),
		}
	},
	EntityObjective: func(id string) []string {
		return []string{
			Prefix("objectiveById", "id", id),
			Prefix("objectivesByExam"),
		}
	},
	EntityExamProgress: func(userID string) []string {
		return []string{
			Prefix("examProgress", "userId", userID),
			Prefix("userSummary", "userId", userID),
			Prefix("userDashboard", "userId", userID),
		}
	},
	EntityAnswer: func(userID string) []string {
		return []string{
			Prefix("answersByUser", "userId", userID),
			Prefix("sessionAnswers", "userId", userID),
			Prefix("userSummary", "userId", userID),
			Prefix("userDashboard", "userId", userID),
		}
	},
	EntityStudySession: func(userID string) []string {
		return []string{
			Prefix("studySession", "userId", userID),
			Prefix("sessionsByUser", "userId", userID),
			Prefix("userDashboard", "userId", userID),
		}
	},
	EntityTestAttempt: func(userID string) []string {
		return []string{
			Prefix("testAttempt", "userId", userID),
			Prefix("attemptsByUser", "userId", userID),
			Prefix("userSummary", "userId", userID),
			Prefix("userDashboard", "userId", userID),
		}
	},
}

// Entities returns every declared entity type, sorted.
func Entities() []EntityType {
	entities := make([]EntityType, 0, len(prefixTable))
	for entity := range prefixTable {
		entities = append(entities, entity)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i] < entities[j] })
	return entities
}

// Publisher fans invalidation events out to sibling instances.
// Satisfied by sync.PubSubSynchronizer.
type Publisher interface {
	Publish(ctx context.Context, event types.InvalidationEvent) error
}

// Invalidator purges cache entries derived from a written entity. The
// local and shared layers are purged synchronously before the write's
// response returns; the cross-instance broadcast is best effort.
type Invalidator struct {
	cache     *cache.Layered
	publisher Publisher
	logger    cache.Logger
}

// NewInvalidator creates an invalidator. publisher may be nil for
// single-instance deployments.
func NewInvalidator(layered *cache.Layered, publisher Publisher, logger cache.Logger) *Invalidator {
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &Invalidator{
		cache:     layered,
		publisher: publisher,
		logger:    logger,
	}
}

// PrefixesFor resolves the cache-key prefixes affected by a write to
// the given entity.
func (inv *Invalidator) PrefixesFor(entity EntityType, entityKey string) ([]string, error) {
	builder, ok := prefixTable[entity]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entity)
	}
	return builder(entityKey), nil
}

// Invalidate purges every prefix affected by a write to entity.
func (inv *Invalidator) Invalidate(ctx context.Context, entity EntityType, entityKey string) error {
	prefixes, err := inv.PrefixesFor(entity, entityKey)
	if err != nil {
		return err
	}
	return inv.InvalidatePrefixes(ctx, prefixes, string(entity))
}

// InvalidatePrefixes purges an explicit prefix set, then broadcasts it.
// A partial failure still attempts the remaining prefixes and the
// broadcast before reporting, so one bad prefix cannot strand the rest.
func (inv *Invalidator) InvalidatePrefixes(ctx context.Context, prefixes []string, entity string) error {
	var firstErr error
	for _, prefix := range prefixes {
		if err := inv.cache.DeleteByPrefix(ctx, prefix); err != nil {
			inv.logger.Error("invalidation incomplete, stale reads possible",
				"entity", entity, "prefix", prefix, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("invalidate prefix %q: %w", prefix, err)
			}
		}
	}

	if inv.publisher != nil {
		event := types.InvalidationEvent{Prefixes: prefixes, Entity: entity}
		if err := inv.publisher.Publish(ctx, event); err != nil {
			inv.logger.Warn("failed to broadcast invalidation", "entity", entity, "error", err)
		}
	}

	return firstErr
}

// ErrUnknownEntity is returned for a write naming an entity type with
// no invalidation mapping.
var ErrUnknownEntity = errors.New("unknown entity type")
