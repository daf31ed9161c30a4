package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/aline-bot/internal/scheduler"
	"github.com/nugget/aline-bot/internal/tools"
	"github.com/nugget/aline-bot/internal/users"
)

// Tool result texts.
const (
	NoSchedules         = "등록된 스케줄이 없습니다."
	DeleteSucceeded     = "스케줄 삭제에 성공했습니다."
	DeleteFailed        = "스케줄 삭제에 실패했습니다."
	MemoUpdateSucceeded = "유저 정보 업데이트에 성공했습니다."
	MemoUpdateFailed    = "유저 정보 업데이트에 실패했습니다."
	MemoLookupFailed    = "유저 정보 조회에 실패했습니다."
	NoMemo              = "저장된 유저 정보가 없습니다."
)

// UserStore is the subset of the users store the tools need.
type UserStore interface {
	Get(ctx context.Context, id string) (*users.User, error)
	SetMemo(ctx context.Context, id, memo string) error
}

// Tools returns the schedule handler's tools. The acting user comes
// from the call context.
func Tools(ex *Extractor, us UserStore) []*tools.Tool {
	return []*tools.Tool{
		{
			Name:        "set_schedule",
			Description: "사용자 요청으로 정기 알림 스케줄을 등록합니다. 사용자당 1개만 가능합니다.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"request": map[string]any{"type": "string", "description": "스케줄 요청 원문"},
				},
				"required": []string{"request"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				userID, err := requireUser(ctx)
				if err != nil {
					return "", err
				}
				job, err := ex.Create(ctx, userID, tools.StringArg(args, "request"))
				switch {
				case errors.Is(err, ErrJobExists):
					return ErrJobExists.Error(), nil
				case errors.Is(err, ErrNoHandlers):
					return fmt.Sprintf("예약할 수 있는 에이전트가 없습니다. (%s)", strings.Join(scheduler.SchedulableHandlers, ", ")), nil
				case errors.Is(err, scheduler.ErrInvalidJob):
					return "스케줄 정보를 이해하지 못했습니다: " + err.Error(), nil
				case err != nil:
					return "", err
				}
				return "스케줄을 등록했습니다.\n" + Describe(job), nil
			},
		},
		{
			Name:        "get_schedule_list",
			Description: "사용자의 스케줄 목록을 조회합니다.",
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				userID, err := requireUser(ctx)
				if err != nil {
					return "", err
				}
				jobs, err := ex.store.ListByUser(ctx, userID)
				if err != nil {
					return "", err
				}
				if len(jobs) == 0 {
					return NoSchedules, nil
				}
				b, err := json.Marshal(jobs)
				if err != nil {
					return "", err
				}
				return string(b), nil
			},
		},
		{
			Name:        "delete_schedule",
			Description: "사용자가 직접 요청한 경우에만 스케줄을 삭제합니다.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"schedule_id": map[string]any{"type": "string", "description": "삭제할 스케줄 id"},
				},
				"required": []string{"schedule_id"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				userID, err := requireUser(ctx)
				if err != nil {
					return "", err
				}
				id := tools.StringArg(args, "schedule_id")
				job, err := ex.store.Get(ctx, id)
				if err != nil || job.UserID != userID {
					return DeleteFailed, nil
				}
				if err := ex.store.Delete(ctx, id); err != nil {
					ex.logger.Warn("schedule delete failed", "job_id", id, "error", err)
					return DeleteFailed, nil
				}
				return DeleteSucceeded, nil
			},
		},
		{
			Name:        "remember_user_info",
			Description: "사용자가 알려준 정보를 기억합니다.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_extra_info": map[string]any{"type": "string", "description": "기억할 사용자 정보"},
				},
				"required": []string{"user_extra_info"},
			},
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				userID, err := requireUser(ctx)
				if err != nil {
					return "", err
				}
				u, err := us.Get(ctx, userID)
				if err != nil {
					return MemoUpdateFailed, nil
				}
				memo, err := ex.mergeMemo(ctx, u.Memo, tools.StringArg(args, "user_extra_info"))
				if err != nil {
					return "", err
				}
				if err := us.SetMemo(ctx, userID, memo); err != nil {
					ex.logger.Warn("memo update failed", "user_id", userID, "error", err)
					return MemoUpdateFailed, nil
				}
				return MemoUpdateSucceeded, nil
			},
		},
		{
			Name:        "get_user_info",
			Description: "기억한 사용자 정보를 조회합니다.",
			Handler: func(ctx context.Context, _ map[string]any) (string, error) {
				userID, err := requireUser(ctx)
				if err != nil {
					return "", err
				}
				u, err := us.Get(ctx, userID)
				if err != nil {
					return MemoLookupFailed, nil
				}
				if u.Memo == "" {
					return NoMemo, nil
				}
				return u.Memo, nil
			},
		},
	}
}

func requireUser(ctx context.Context) (string, error) {
	id := tools.UserIDFromContext(ctx)
	if id == "" {
		return "", errors.New("no user in context")
	}
	return id, nil
}

var koreanDay = map[time.Weekday]string{
	time.Monday: "월", time.Tuesday: "화", time.Wednesday: "수", time.Thursday: "목",
	time.Friday: "금", time.Saturday: "토", time.Sunday: "일",
}

// Describe renders a job the way the schedule handler reports it.
func Describe(j *scheduler.Job) string {
	var days string
	switch {
	case j.Once:
		days = "1회"
	case j.Days.String() == "mon,tue,wed,thu,fri,sat,sun":
		days = "매일"
	case j.Days.String() == "mon,tue,wed,thu,fri":
		days = "평일"
	case j.Days.String() == "sat,sun":
		days = "주말"
	default:
		names := make([]string, len(j.Days))
		for i, d := range j.Days {
			names[i] = koreanDay[d]
		}
		days = strings.Join(names, ", ")
	}
	return fmt.Sprintf("- 에이전트 목록: [%s]\n- 알람 시간: %s\n- 알람 요일: %s",
		strings.Join(j.Handlers, ", "), j.TimeOfDay(), days)
}
