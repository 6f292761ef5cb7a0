package tracking

import "github.com/trackpay/trackpay-api/internal/model"

// Action は作業セッションに対する操作。
type Action string

const (
	ActionStop           Action = "stop"
	ActionRequestPayment Action = "request payment for"
	ActionMarkPaid       Action = "mark paid"
	ActionDelete         Action = "delete"
)

type transition struct {
	from []model.SessionStatus
	to   model.SessionStatus
}

// transitions は操作ごとの遷移元と遷移先。ActionDeleteは行を削除するため遷移先を持たない。
var transitions = map[Action]transition{
	ActionStop:           {from: []model.SessionStatus{model.SessionStatusActive}, to: model.SessionStatusUnpaid},
	ActionRequestPayment: {from: []model.SessionStatus{model.SessionStatusUnpaid}, to: model.SessionStatusRequested},
	ActionMarkPaid:       {from: []model.SessionStatus{model.SessionStatusUnpaid, model.SessionStatusRequested}, to: model.SessionStatusPaid},
	ActionDelete:         {from: []model.SessionStatus{model.SessionStatusActive, model.SessionStatusUnpaid}},
}

// Transition はfromの状態に対してactionが許可されるかを検証し、遷移先を返す。
// 許可されない場合はINVALID_SESSION_TRANSITIONのAPIErrorを返す。
func Transition(action Action, from model.SessionStatus) (model.SessionStatus, error) {
	t, ok := transitions[action]
	if ok {
		for _, s := range t.from {
			if s == from {
				return t.to, nil
			}
		}
	}
	return "", model.NewInvalidSessionTransitionError(string(action), from)
}
