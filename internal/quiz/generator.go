package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/learnloop-ai/LearnLoopServer/internal/apperrors"
	"github.com/learnloop-ai/LearnLoopServer/internal/metrics"
	"github.com/learnloop-ai/LearnLoopServer/internal/models"
	"github.com/learnloop-ai/LearnLoopServer/internal/provider"
	"github.com/learnloop-ai/LearnLoopServer/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultQuestionCount is the number of questions requested per artifact.
const DefaultQuestionCount = 3

// optionLabels are the labels the generator emits after redistribution.
var optionLabels = []string{"A", "B", "C"}

// candidate is a validated quiz item before persistence.
type candidate struct {
	Question     string
	Options      []models.QuizOption
	CorrectLabel string
}

// Generator produces comprehension quizzes for code artifacts, with a
// deterministic pattern fallback when AI generation fails or yields nothing.
type Generator struct {
	db      *gorm.DB
	gen     provider.TextGenerator
	model   string
	count   int
	metrics *metrics.Metrics
}

// NewGenerator constructs a Generator using the given generation model.
func NewGenerator(conn *gorm.DB, gen provider.TextGenerator, model string) *Generator {
	return &Generator{
		db:      conn,
		gen:     gen,
		model:   model,
		count:   DefaultQuestionCount,
		metrics: metrics.Get(),
	}
}

// GenerateResult is the outcome of quiz generation for one artifact.
// Generated is true only for the call that persisted the quiz set; replays
// and racing losers return the stored set with Generated false.
type GenerateResult struct {
	Artifact     *models.Artifact
	Quizzes      []models.Quiz
	Generated    bool
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// GenerateForArtifact generates and persists quizzes for an artifact.
// Generation runs at most once per artifact; later calls return the stored
// quizzes. Zero usable questions mark the artifact unlocked rather than
// leaving it permanently locked.
func (g *Generator) GenerateForArtifact(ctx context.Context, artifactID uint64) (*GenerateResult, error) {
	var artifact models.Artifact
	if errFirst := g.db.WithContext(ctx).First(&artifact, "id = ?", artifactID).Error; errFirst != nil {
		if errors.Is(errFirst, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("artifact not found")
		}
		return nil, fmt.Errorf("quiz: load artifact: %w", errFirst)
	}
	if artifact.QuizzesGenerated {
		var existing []models.Quiz
		if errFind := g.db.WithContext(ctx).
			Where("artifact_id = ?", artifact.ID).
			Order("level asc").
			Find(&existing).Error; errFind != nil {
			return nil, fmt.Errorf("quiz: load quizzes: %w", errFind)
		}
		return &GenerateResult{Artifact: &artifact, Quizzes: existing}, nil
	}

	limit := settings.Int(settings.QuizQuestionCountKey, g.count)
	source := "ai"
	candidates, usage, errGenerate := g.generateCandidates(ctx, artifact.Content, artifact.Language, limit)
	if errGenerate != nil || len(candidates) == 0 {
		if errGenerate != nil {
			log.WithError(errGenerate).WithField("artifact_id", artifact.ID).
				Warn("quiz: generation failed, using pattern fallback")
		}
		source = "fallback"
		candidates = fallbackCandidates(artifact.Content)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	redistributeAnswers(candidates, rng)
	if len(candidates) == 0 {
		source = "empty"
	}
	g.metrics.QuizGenerationTotal.WithLabelValues(source).Inc()

	quizzes := make([]models.Quiz, 0, len(candidates))
	var lostRace bool
	errTx := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Claim the artifact before inserting anything so two concurrent
		// callers cannot both persist a quiz set.
		claim := tx.Model(&models.Artifact{}).
			Where("id = ? AND quizzes_generated = ?", artifact.ID, false).
			Updates(map[string]any{
				"quizzes_generated": true,
				"total_questions":   len(candidates),
				"unlock_level":      0,
			})
		if claim.Error != nil {
			return fmt.Errorf("quiz: mark generated: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			lostRace = true
			return nil
		}
		for i, c := range candidates {
			optionsJSON, errMarshal := json.Marshal(c.Options)
			if errMarshal != nil {
				return fmt.Errorf("quiz: marshal options: %w", errMarshal)
			}
			row := models.Quiz{
				ArtifactID:   artifact.ID,
				Level:        i + 1,
				Question:     c.Question,
				Options:      datatypes.JSON(optionsJSON),
				CorrectLabel: c.CorrectLabel,
				Status:       models.QuizStatusPending,
			}
			if errCreate := tx.Create(&row).Error; errCreate != nil {
				return fmt.Errorf("quiz: create quiz: %w", errCreate)
			}
			quizzes = append(quizzes, row)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	if lostRace {
		// A concurrent generation won the claim; return its stored set.
		if errFirst := g.db.WithContext(ctx).First(&artifact, "id = ?", artifact.ID).Error; errFirst != nil {
			return nil, fmt.Errorf("quiz: load artifact: %w", errFirst)
		}
		var existing []models.Quiz
		if errFind := g.db.WithContext(ctx).
			Where("artifact_id = ?", artifact.ID).
			Order("level asc").
			Find(&existing).Error; errFind != nil {
			return nil, fmt.Errorf("quiz: load quizzes: %w", errFind)
		}
		return &GenerateResult{Artifact: &artifact, Quizzes: existing}, nil
	}

	artifact.QuizzesGenerated = true
	artifact.TotalQuestions = len(candidates)
	artifact.UnlockLevel = 0
	return &GenerateResult{
		Artifact:     &artifact,
		Quizzes:      quizzes,
		Generated:    true,
		Model:        g.model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}, nil
}

// rawQuiz is the JSON shape requested from the generation model.
type rawQuiz struct {
	Question     string              `json:"question"`
	Options      []models.QuizOption `json:"options"`
	CorrectLabel string              `json:"correctLabel"`
}

// generateCandidates asks the generation model for quiz items and validates
// the output. A failed call or unparseable output returns an error so the
// caller can fall back.
func (g *Generator) generateCandidates(ctx context.Context, code, language string, limit int) ([]candidate, provider.Result, error) {
	prompt := fmt.Sprintf(
		"Write up to %d multiple-choice comprehension questions about the %s code below. "+
			"Each question must ask WHY the code behaves the way it does, not what it does. "+
			"Respond with a JSON array only, each element shaped as "+
			`{"question": "...", "options": [{"label": "A", "text": "..."}, {"label": "B", "text": "..."}, {"label": "C", "text": "..."}], "correctLabel": "A"}.`+
			"\n\n```%s\n%s\n```",
		limit, language, language, code,
	)
	result, errGenerate := g.gen.Generate(ctx, provider.Request{
		Model:     g.model,
		System:    "You write quiz questions that probe causal understanding of code. Output strict JSON with no commentary.",
		Messages:  []provider.Message{{Role: models.RoleUser, Content: prompt}},
		MaxTokens: 1200,
	})
	if errGenerate != nil {
		return nil, provider.Result{}, fmt.Errorf("quiz: generate: %w", errGenerate)
	}

	raw, errParse := parseQuizJSON(result.Text)
	if errParse != nil {
		return nil, result, errParse
	}
	return validateCandidates(raw, limit), result, nil
}

// parseQuizJSON decodes the model output, tolerating markdown code fences.
func parseQuizJSON(text string) ([]rawQuiz, error) {
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}
	var raw []rawQuiz
	if errUnmarshal := json.Unmarshal([]byte(trimmed), &raw); errUnmarshal != nil {
		return nil, fmt.Errorf("quiz: parse generation output: %w", errUnmarshal)
	}
	return raw, nil
}

// validateCandidates filters raw items down to usable candidates: duplicate
// questions dropped, the correct label must name one of the item's own
// options, at least three options are required, and questions are rewritten
// into a why-form when needed.
func validateCandidates(raw []rawQuiz, limit int) []candidate {
	seen := make(map[string]bool)
	out := make([]candidate, 0, len(raw))
	for _, r := range raw {
		question := strings.TrimSpace(r.Question)
		if question == "" || len(r.Options) < 3 {
			continue
		}
		key := questionKey(question)
		if seen[key] {
			continue
		}

		correct := strings.ToUpper(strings.TrimSpace(r.CorrectLabel))
		correctIdx := -1
		for i := range r.Options {
			r.Options[i].Label = strings.ToUpper(strings.TrimSpace(r.Options[i].Label))
			if r.Options[i].Label == correct {
				correctIdx = i
			}
		}
		if correctIdx < 0 {
			continue
		}

		options := r.Options[:3:3]
		if correctIdx >= 3 {
			// Keep the correct option when trimming extras.
			options = append(options[:2:2], r.Options[correctIdx])
		}

		seen[key] = true
		out = append(out, candidate{
			Question:     rewriteAsWhy(question),
			Options:      options,
			CorrectLabel: correct,
		})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// questionKey normalizes a question to its first 50 significant characters.
func questionKey(question string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(question) {
		if unicode.IsSpace(r) {
			continue
		}
		sb.WriteRune(r)
		if sb.Len() >= 50 {
			break
		}
	}
	return sb.String()
}

// rewriteAsWhy forces a question into why-phrasing so it probes causal
// understanding rather than recall.
func rewriteAsWhy(question string) string {
	if strings.HasPrefix(strings.ToLower(question), "why") {
		return question
	}
	body := strings.TrimRight(question, "?")
	body = strings.TrimSpace(body)
	if body == "" {
		return question
	}
	r := []rune(body)
	r[0] = unicode.ToLower(r[0])
	return "Why is it that " + string(r) + "?"
}

// redistributeAnswers shuffles each candidate's options, relabels them A-C in
// shuffled order, then steers the correct answer toward a round-robin target
// label starting from a random offset. When the shuffle already landed the
// correct answer on its target no swap happens. This counters the generation
// bias of always placing correct answers in one position.
func redistributeAnswers(items []candidate, rng *rand.Rand) {
	if len(items) == 0 {
		return
	}
	offset := rng.Intn(len(optionLabels))
	for i := range items {
		item := &items[i]
		correctText := ""
		for _, o := range item.Options {
			if o.Label == item.CorrectLabel {
				correctText = o.Text
				break
			}
		}

		rng.Shuffle(len(item.Options), func(a, b int) {
			item.Options[a], item.Options[b] = item.Options[b], item.Options[a]
		})
		for j := range item.Options {
			item.Options[j].Label = optionLabels[j]
		}

		currentIdx := 0
		for j, o := range item.Options {
			if o.Text == correctText {
				currentIdx = j
				break
			}
		}
		targetIdx := (offset + i) % len(optionLabels)
		if currentIdx != targetIdx {
			item.Options[currentIdx].Text, item.Options[targetIdx].Text =
				item.Options[targetIdx].Text, item.Options[currentIdx].Text
		}
		item.CorrectLabel = optionLabels[targetIdx]
	}
}
