package capability

import "strings"

var guideLines = []string{
	"아래와 같은 기능을 사용할 수 있어요.",
	"- 날씨: \"서울 날씨 어때?\", \"내일 오후 3시 부산 날씨 알려줘\"",
	"- 뉴스: \"최신 경제 뉴스 알려줘\" (섹션: " + strings.Join(SectionNames(), ", ") + ")",
	"- 지하철: \"강남역 도착 정보 알려줘\"",
	"- 스케줄: \"평일 아침 8시에 날씨랑 뉴스 알려줘\" (스케줄은 1개까지 등록할 수 있어요)",
	"- 검색: 그 밖의 궁금한 내용은 웹 검색으로 답해드려요.",
}

// Guide returns the bot usage guide.
func Guide() string {
	return strings.Join(guideLines, "\n")
}

// WelcomeMessage is pushed to a user on their first message.
func WelcomeMessage() string {
	return "안녕하세요. 첫 사용자 시군요? " + Guide()
}
