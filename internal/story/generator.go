package story

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ddoriboo/ourstory/internal/transcript"
)

// TextGenerator produces prose from a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SavedTurn is one persisted conversation line with the session it was
// recorded under.
type SavedTurn struct {
	SessionTitle string
	Speaker      string
	Text         string
}

// History retrieves the turns persisted across all of the user's session
// runs, in chronological order. A life story spans every completed session,
// not just the one currently in memory.
type History interface {
	SavedTurns(ctx context.Context) ([]SavedTurn, error)
}

// Archive persists finished autobiographies.
type Archive interface {
	SaveAutobiography(ctx context.Context, title, content, provider, model string) (id int, err error)
}

// Autobiography is one generated life-story draft.
type Autobiography struct {
	ID        int       `json:"id,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Generator turns interview conversations into a first-person autobiography
// draft and archives it. Drafts are built from the full persisted history
// when one is available; the in-memory transcript of the active session is
// the fallback when no backend is configured or the fetch fails. history and
// archive may both be nil.
type Generator struct {
	gen      TextGenerator
	history  History
	archive  Archive
	provider string
	model    string
	log      zerolog.Logger
}

// NewGenerator wires a generator.
func NewGenerator(gen TextGenerator, history History, archive Archive, provider, model string, log zerolog.Logger) *Generator {
	return &Generator{
		gen:      gen,
		history:  history,
		archive:  archive,
		provider: provider,
		model:    model,
		log:      log.With().Str("component", "story").Logger(),
	}
}

// Create generates an autobiography draft. localTurns is the active session's
// transcript, labelled with sessionTitle; it is used only when the persisted
// history is unavailable or empty. Returns an error when there is nothing to
// write from.
func (g *Generator) Create(ctx context.Context, title, sessionTitle string, localTurns []transcript.Turn) (Autobiography, error) {
	turns := g.gatherTurns(ctx, sessionTitle, localTurns)
	if len(turns) == 0 {
		return Autobiography{}, fmt.Errorf("story: no conversation turns to write from")
	}

	content, err := g.gen.Generate(ctx, buildPrompt(turns))
	if err != nil {
		return Autobiography{}, fmt.Errorf("story: generate draft: %w", err)
	}
	if title == "" {
		title = sessionTitle
	}
	doc := Autobiography{Title: title, Content: content, CreatedAt: time.Now()}

	if g.archive != nil {
		id, err := g.archive.SaveAutobiography(ctx, doc.Title, doc.Content, g.provider, g.model)
		if err != nil {
			g.log.Warn().Err(err).Msg("autobiography generated but not archived")
		} else {
			doc.ID = id
		}
	}
	return doc, nil
}

func (g *Generator) gatherTurns(ctx context.Context, sessionTitle string, localTurns []transcript.Turn) []SavedTurn {
	if g.history != nil {
		saved, err := g.history.SavedTurns(ctx)
		switch {
		case err != nil:
			g.log.Warn().Err(err).Msg("persisted history unavailable, using local transcript")
		case len(saved) > 0:
			return saved
		}
	}
	out := make([]SavedTurn, 0, len(localTurns))
	for _, t := range localTurns {
		out = append(out, SavedTurn{SessionTitle: sessionTitle, Speaker: string(t.Speaker), Text: t.Text})
	}
	return out
}

// buildPrompt lays the conversations out chronologically under the writing
// brief the drafts were tuned on.
func buildPrompt(turns []SavedTurn) string {
	var record strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&record, "[%s] %s\n\n", t.SessionTitle, t.Text)
	}

	return fmt.Sprintf(`너는 따뜻한 문체를 가진 자서전 작가야. 다음은 한 사람의 인생 인터뷰 기록이야. 이 기록을 바탕으로, 시간의 흐름에 따라 자연스럽게 연결되는 한 편의 자서전 초고를 1인칭 시점('나는 ~했다')으로 작성해 줘.

자서전 작성 가이드라인:
1. 시간 순서대로 인생의 여정을 서술해줘
2. 감정적이고 따뜻한 문체를 사용해줘
3. 구체적인 에피소드와 감정을 포함해줘
4. 각 인생 단계별로 장(章)으로 나누어 구성해줘
5. 전체적으로 일관된 스토리텔링을 유지해줘

인터뷰 기록:
%s
위 내용을 바탕으로 자서전 초고를 작성해줘.`, record.String())
}
