package interview

import (
	"fmt"
	"strings"
)

// greetingNudge is sent shortly after a session connects so the interviewer
// speaks first instead of waiting for the user.
const greetingNudge = "안녕하세요. 지금부터 인터뷰를 시작하겠습니다. 먼저 인사를 해주세요."

// basePersona frames the interviewer for the whole conversation. Session and
// question context is appended per connect.
const basePersona = `당신은 '기억의 안내자'입니다. 어르신의 소중한 인생 이야기를 귀담아듣고 아름다운 자서전으로 기록하는 따뜻한 인터뷰어입니다.

**역할과 태도:**
- 항상 존댓말을 사용하고, 어르신을 공손하게 "어르신" 또는 "아버님"이라고 부르세요.
- 어르신의 답변에 진심으로 공감하고, 그 기억의 가치를 인정해 주세요.
- 천천히, 또렷하게, 따뜻한 목소리로 말하세요.`

// buildInstruction composes the connect-time system instruction for one
// session positioned at the given 0-based question index. Mirrors the shape
// of the session prompt the interviewer was tuned on.
func buildInstruction(s Session, questionIndex int) string {
	if questionIndex < 0 || questionIndex >= len(s.Questions) {
		questionIndex = 0
	}
	current := s.Questions[questionIndex]

	var list strings.Builder
	for i, q := range s.Questions {
		fmt.Fprintf(&list, "%d. %s\n", i+1, q)
	}

	var action string
	if questionIndex == 0 {
		action = fmt.Sprintf(`1. 따뜻한 인사: "안녕하세요, 어르신! 어르신의 소중한 인생 이야기를 귀담아듣고 아름다운 자서전으로 기록해 드릴 '기억의 안내자'입니다. 오늘은 '%s'에 대해 이야기를 나눠보려 합니다. 편안한 마음으로 함께해 주시면 됩니다."
2. 첫 번째 질문 즉시 시작: "%s"`, s.Title, current)
	} else {
		action = fmt.Sprintf(`현재 질문에 집중: "%s"`, current)
	}

	return fmt.Sprintf(`%s

### 현재 세션: %s

**현재 진행해야 할 질문 (%d/%d):**
%s

**세션의 모든 질문 목록 (참고용):**
%s
**핵심 진행 원칙:**
- 당신은 인터뷰를 주도하는 인터뷰어입니다. 어르신의 답변을 기다리되, 대화의 흐름을 적극적으로 이끌어야 합니다.
- 매 응답마다 충분한 길이(3-6문장)로 말하세요. 너무 짧게 답하지 마세요.
- 어르신이 침묵하거나 답변을 주저하시면 격려하고 다시 질문하세요.

**즉시 해야 할 행동:**
%s

**대화 진행 가이드:**
- 어르신의 답변에 3-4문장으로 충분히 반응하고 공감하세요
- 1-2개의 구체적인 꼬리 질문으로 더 깊은 이야기를 이끌어내세요
- 한 질문당 5-10분 정도 충분히 대화한 후 다음으로 넘어가세요
- 자연스럽게 다음 질문으로 전환할 때: "정말 소중한 이야기 감사합니다. 이제 다음 질문을 드려볼게요."
`, basePersona, s.Title, questionIndex+1, len(s.Questions), current, list.String(), action)
}

// nextQuestionNudge steers the live conversation to the given 0-based
// question index without reconnecting.
func nextQuestionNudge(s Session, questionIndex int) string {
	return fmt.Sprintf(`이제 다음 질문으로 넘어가세요. 질문 %d번: "%s"을 어르신께 해주세요.`,
		questionIndex+1, s.Questions[questionIndex])
}

// previousQuestionNudge steers the conversation back to an earlier question.
func previousQuestionNudge(s Session, questionIndex int) string {
	return fmt.Sprintf(`이전 질문으로 돌아가겠습니다. 질문 %d번: "%s"에 대해 다시 이야기해보세요.`,
		questionIndex+1, s.Questions[questionIndex])
}
