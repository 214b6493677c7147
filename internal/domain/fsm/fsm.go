// Package fsm holds the stage transition table of the conversation.
package fsm

import (
	"context"
	"log/slog"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

type edge struct {
	from   entity.Stage
	action entity.Action
}

var table = map[edge]entity.Stage{
	{entity.StageNone, entity.ActionPhotoReceived}: entity.StagePhotoCaptioning,

	{entity.StagePhotoCaptioning, entity.ActionGenerated}: entity.StageUserActioning,

	{entity.StageCaptionModifying, entity.ActionModified}: entity.StageUserActioning,

	{entity.StageUserActioning, entity.ActionTypeConfirm}:   entity.StageStoryGenerating,
	{entity.StageUserActioning, entity.ActionModifyRequest}: entity.StageCaptionModifying,
	{entity.StageUserActioning, entity.ActionStoryClosed}:   entity.StageAudioGenerating,

	{entity.StageStoryGenerating, entity.ActionGenerated}: entity.StageStoryPreview,

	{entity.StageStoryPreview, entity.ActionStoryExtend}:        entity.StageStoryGenerating,
	{entity.StageStoryPreview, entity.ActionUserProduceRequest}: entity.StageStoryUserProducing,
	{entity.StageStoryPreview, entity.ActionModifyRequest}:      entity.StageStoryModifying,
	{entity.StageStoryPreview, entity.ActionStoryClosed}:        entity.StageAudioGenerating,

	{entity.StageStoryModifying, entity.ActionModified}: entity.StageStoryPreview,

	{entity.StageStoryUserProducing, entity.ActionUserProduced}: entity.StageStoryPreview,

	{entity.StageAudioGenerating, entity.ActionGenerated}: entity.StageNone,
}

// Transition returns the stage reached from stage by action.
// Pairs outside the table return stage unchanged and false.
func Transition(stage entity.Stage, action entity.Action) (entity.Stage, bool) {
	next, ok := table[edge{stage, action}]
	if !ok {
		return stage, false
	}
	return next, true
}

// Allowed lists the actions accepted in stage.
func Allowed(stage entity.Stage) []entity.Action {
	var out []entity.Action
	for _, a := range entity.Actions.Members() {
		if _, ok := table[edge{stage, a}]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Apply moves state along the table. An illegal pair leaves state untouched and logs a warning.
func Apply(ctx context.Context, state *entity.UserState, action entity.Action) bool {
	from := state.Stage
	next, ok := Transition(from, action)
	if !ok {
		logger.Conv.LogAttrs(ctx, slog.LevelWarn, "fsm.noop",
			slog.String("status", "noop"),
			slog.String("user_id", state.ID),
			slog.String("stage", from.Value),
			slog.String("action", action.Value),
		)
		return false
	}
	state.Stage = next
	logger.Conv.LogAttrs(ctx, slog.LevelInfo, "fsm.transition",
		slog.String("status", "ok"),
		slog.String("user_id", state.ID),
		slog.String("stage", from.Value),
		slog.String("next_stage", next.Value),
		slog.String("action", action.Value),
	)
	return true
}

// Rollback returns state to previous after a failed operation.
// It is refused unless some action leads from previous to the current stage.
func Rollback(ctx context.Context, state *entity.UserState, previous entity.Stage) bool {
	current := state.Stage
	for e, to := range table {
		if e.from == previous && to == current {
			state.Stage = previous
			logger.Conv.LogAttrs(ctx, slog.LevelWarn, "fsm.rollback",
				slog.String("status", "ok"),
				slog.String("user_id", state.ID),
				slog.String("stage", current.Value),
				slog.String("next_stage", previous.Value),
			)
			return true
		}
	}
	logger.Conv.LogAttrs(ctx, slog.LevelWarn, "fsm.rollback",
		slog.String("status", "noop"),
		slog.String("user_id", state.ID),
		slog.String("stage", current.Value),
		slog.String("next_stage", previous.Value),
	)
	return false
}
