package entity

import "github.com/orsinium-labs/enum"

// Action is an input to the stage transition table.
type Action enum.Member[string]

var (
	ActionPhotoReceived      = Action{"photo_received"}
	ActionGenerated          = Action{"generated"}
	ActionTypeConfirm        = Action{"type_confirm"}
	ActionModifyRequest      = Action{"modify_request"}
	ActionModified           = Action{"modified"}
	ActionUserProduceRequest = Action{"user_produce_request"}
	ActionUserProduced       = Action{"user_produced"}
	ActionStoryExtend        = Action{"story_extend"}
	ActionStoryClosed        = Action{"story_closed"}

	Actions = enum.New(
		ActionPhotoReceived,
		ActionGenerated,
		ActionTypeConfirm,
		ActionModifyRequest,
		ActionModified,
		ActionUserProduceRequest,
		ActionUserProduced,
		ActionStoryExtend,
		ActionStoryClosed,
	)
)

// ParseAction maps a postback action value to an Action.
func ParseAction(value string) (Action, bool) {
	if a := Actions.Parse(value); a != nil {
		return *a, true
	}
	return Action{}, false
}

func (a Action) String() string { return a.Value }
