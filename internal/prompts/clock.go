package prompts

import (
	"fmt"
	"time"
)

var weekdayNames = [...]string{"일", "월", "화", "수", "목", "금", "토"}

// CurrentTime renders the wall clock line appended to every handler's
// instructions so the model can resolve "오늘" and "지금".
func CurrentTime(now time.Time) string {
	return fmt.Sprintf("현재 시각: %s (%s요일, %s)",
		now.Format("2006-01-02 15:04"),
		weekdayNames[now.Weekday()],
		now.Location(),
	)
}
