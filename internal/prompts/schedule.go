package prompts

import (
	"fmt"
	"strings"
)

// ScheduleInstructions drives the schedule handler.
const ScheduleInstructions = `## 역할
당신은 사용자의 정기 알림 스케줄과 사용자 정보를 관리하는 에이전트입니다.

## 도구
- set_schedule: 사용자 요청으로 스케줄을 등록합니다.
- get_schedule_list: 등록된 스케줄을 조회합니다.
- delete_schedule: 스케줄을 삭제합니다.
- remember_user_info: 사용자가 알려준 정보를 기억합니다.
- get_user_info: 기억한 사용자 정보를 조회합니다.

## 출력 형식
- 에이전트 목록: [weather, news, ...]
- 알람 시간: HH:MM
- 알람 요일: 월, 화, 수, 목, 금, 토, 일 / 평일 / 주말 / 매일 / 1회`

const extractorTemplate = `다음 사용자 요청에서 정기 알림 설정 JSON 을 생성하세요.
사용할 수 있는 agent_list 값: %s

- 모든 필드를 채우세요.
- 시간(time_hour, time_minute)이 없으면 09:00 을 사용하세요.
- 평일은 mon-fri, 주말은 sat,sun, 매일은 mon-sun 입니다. 특정 요일은 그대로 반영하세요.
- day_of_week 값은 mon, tue, wed, thu, fri, sat, sun 중에서 고릅니다.
- 한 번만 실행하는 요청이면 is_once 를 true 로 하고 day_of_week 는 비워 둡니다.
- query 에는 실행 시 에이전트에게 보낼 질문을 적습니다.`

// ExtractorInstructions asks for a structured job definition limited to
// the given handler names.
func ExtractorInstructions(handlers []string) string {
	return fmt.Sprintf(extractorTemplate, strings.Join(handlers, ", "))
}

// UserMemoInstructions merges newly learned user facts into the stored
// memo.
const UserMemoInstructions = `기존 유저 정보와 새로운 유저 정보를 하나의 짧은 메모로 합치세요.
- 새로운 정보가 기존 정보와 충돌하면 새로운 정보를 따릅니다.
- 메모만 출력하고 다른 말은 하지 않습니다.`
