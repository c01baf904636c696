package intake

import (
	"log/slog"
	"math"
	"strings"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// MergeContext carries the turn signals that alter merge policy.
type MergeContext struct {
	State              models.ConversationState
	Intent             models.IntentResult
	LastExpectedField  models.FieldName
	ResumedFromWaiting bool
	Message            string
}

// MergeResult is the outcome of one merge pass. Intake and Confidence are fresh copies.
type MergeResult struct {
	Intake     models.IntakeFields
	Confidence models.ConfidenceMap
	Decisions  []models.MergeDecision
}

// Changed reports whether any field was modified.
func (r MergeResult) Changed() bool {
	for _, d := range r.Decisions {
		if d.Changed() {
			return true
		}
	}
	return false
}

// Engine applies field-specific merge policies.
type Engine struct {
	thresholds Thresholds
}

// NewEngine creates an Engine with the given thresholds.
func NewEngine(t Thresholds) *Engine {
	return &Engine{thresholds: t}
}

// Reasons recorded on merge decisions.
const (
	ReasonMissing         = "field was empty"
	ReasonCorrection      = "explicit correction"
	ReasonResumedWaiting  = "resumed after checking"
	ReasonUnchanged       = "same value"
	ReasonMoreDetailed    = "more detailed value"
	ReasonLessDetailed    = "existing value is as detailed"
	ReasonConfidenceDrop  = "new value confidence too low"
	ReasonAppended        = "new information appended"
	ReasonHigherAndLonger = "higher confidence and longer"
	ReasonNotBetter       = "new value is not better"
	ReasonProtected       = "existing category is protected"
	ReasonNoDowngrade     = "will not downgrade to other"
	ReasonUpgrade         = "upgraded weak category"
	ReasonContradiction   = "user contradicted previous value"
	ReasonAlreadyListed   = "system already listed"
	ReasonExplicit        = "explicit urgency statement"
	ReasonAnswered        = "answer to the last question"
	ReasonMaterialGain    = "materially higher confidence"
	ReasonInvalid         = "invalid value"
	ReasonLocked          = "intake is locked in this state"
	ReasonInferred        = "inferred from keywords"
)

// Merge folds candidates into the session intake. The inputs are not mutated.
func (e *Engine) Merge(in models.IntakeFields, conf models.ConfidenceMap, cands models.Candidates, mc MergeContext) MergeResult {
	res := MergeResult{Intake: in.Clone(), Confidence: conf.Clone()}

	if !e.mutable(mc) {
		for _, f := range models.AllFields {
			if c, ok := cands[f]; ok {
				res.Decisions = append(res.Decisions, models.MergeDecision{Field: f, Action: models.MergeReject, Reason: ReasonLocked, NewValue: c.Value, Confidence: c.Confidence})
			}
		}
		return res
	}

	for _, f := range models.AllFields {
		c, ok := cands[f]
		if !ok {
			continue
		}
		c.Confidence = models.ClampConfidence(c.Confidence)
		c.Value = strings.TrimSpace(c.Value)
		var d models.MergeDecision
		switch f {
		case models.FieldProblem:
			d = e.mergeProblem(&res, c, mc)
		case models.FieldCategory:
			d = e.mergeCategory(&res, c, mc)
		case models.FieldUrgency:
			d = e.mergeUrgency(&res, c, mc)
		case models.FieldAffectedSystem:
			d = e.mergeAffectedSystem(&res, c, mc)
		case models.FieldErrorText:
			d = e.mergeErrorText(&res, c, mc)
		}
		d.Field = f
		slog.Debug("Engine.Merge: field decision", "field", f, "action", d.Action, "reason", d.Reason)
		res.Decisions = append(res.Decisions, d)
	}

	if d, ok := e.inferCategory(&res, mc.Message); ok {
		res.Decisions = append(res.Decisions, d)
	}
	return res
}

func (e *Engine) mutable(mc MergeContext) bool {
	if mc.State == models.StateWaiting {
		return mc.ResumedFromWaiting
	}
	return mc.State.AllowsFieldMutation()
}

func (e *Engine) set(res *MergeResult, f models.FieldName, value string, confidence float64) bool {
	if !res.Intake.Set(f, value) {
		return false
	}
	res.Confidence[f] = confidence
	return true
}

func decide(action models.MergeAction, reason, oldValue, newValue string, confidence float64) models.MergeDecision {
	return models.MergeDecision{Action: action, Reason: reason, OldValue: oldValue, NewValue: newValue, Confidence: confidence}
}

func (e *Engine) replace(res *MergeResult, f models.FieldName, old string, c models.FieldCandidate, reason string) models.MergeDecision {
	if !e.set(res, f, c.Value, c.Confidence) {
		return decide(models.MergeReject, ReasonInvalid, old, c.Value, c.Confidence)
	}
	return decide(models.MergeReplace, reason, old, c.Value, c.Confidence)
}

func (e *Engine) mergeErrorText(res *MergeResult, c models.FieldCandidate, mc MergeContext) models.MergeDecision {
	const f = models.FieldErrorText
	old, has := res.Intake.Get(f)
	oldConf := res.Confidence.Get(f)
	switch {
	case c.Value == "":
		return decide(models.MergeReject, ReasonInvalid, old, c.Value, c.Confidence)
	case !has:
		return e.replace(res, f, old, c, ReasonMissing)
	case mc.Intent.IsCorrection:
		return e.replace(res, f, old, c, ReasonCorrection)
	case mc.ResumedFromWaiting:
		return e.replace(res, f, old, c, ReasonResumedWaiting)
	case strings.EqualFold(old, c.Value):
		res.Confidence[f] = math.Max(oldConf, c.Confidence)
		return decide(models.MergeKeep, ReasonUnchanged, old, c.Value, res.Confidence[f])
	case detailLength(c.Value) <= detailLength(old):
		return decide(models.MergeKeep, ReasonLessDetailed, old, c.Value, oldConf)
	case c.Confidence < oldConf-e.thresholds.ErrorTextSlack:
		return decide(models.MergeKeep, ReasonConfidenceDrop, old, c.Value, oldConf)
	default:
		return e.replace(res, f, old, c, ReasonMoreDetailed)
	}
}

// detailLength treats the explicit "none" sentinel as carrying no detail.
func detailLength(v string) int {
	if v == models.NoErrorProvided {
		return 0
	}
	return len(v)
}

func (e *Engine) mergeProblem(res *MergeResult, c models.FieldCandidate, mc MergeContext) models.MergeDecision {
	const f = models.FieldProblem
	old, has := res.Intake.Get(f)
	oldConf := res.Confidence.Get(f)
	if c.Value == "" {
		return decide(models.MergeReject, ReasonInvalid, old, c.Value, c.Confidence)
	}
	if !has {
		return e.replace(res, f, old, c, ReasonMissing)
	}
	if mc.Intent.IsCorrection {
		return e.replace(res, f, old, c, ReasonCorrection)
	}
	lo, ln := strings.ToLower(old), strings.ToLower(c.Value)
	if lo == ln {
		return decide(models.MergeKeep, ReasonUnchanged, old, c.Value, oldConf)
	}
	if !strings.Contains(lo, ln) && !strings.Contains(ln, lo) {
		merged := strings.TrimRight(old, ". ") + ". " + c.Value
		conf := math.Max(oldConf, c.Confidence*0.9)
		e.set(res, f, merged, conf)
		return decide(models.MergeAppend, ReasonAppended, old, merged, conf)
	}
	if c.Confidence > oldConf && len(c.Value) > len(old) {
		return e.replace(res, f, old, c, ReasonHigherAndLonger)
	}
	return decide(models.MergeKeep, ReasonNotBetter, old, c.Value, oldConf)
}

func (e *Engine) mergeCategory(res *MergeResult, c models.FieldCandidate, mc MergeContext) models.MergeDecision {
	const f = models.FieldCategory
	old, has := res.Intake.Get(f)
	oldConf := res.Confidence.Get(f)
	cat, ok := models.ParseCategory(c.Value)
	if !ok {
		return decide(models.MergeReject, ReasonInvalid, old, c.Value, c.Confidence)
	}
	c.Value = string(cat)
	switch {
	case !has:
		return e.replace(res, f, old, c, ReasonMissing)
	case mc.Intent.IsCorrection:
		return e.replace(res, f, old, c, ReasonCorrection)
	case old == c.Value:
		res.Confidence[f] = math.Max(oldConf, c.Confidence)
		return decide(models.MergeKeep, ReasonUnchanged, old, c.Value, res.Confidence[f])
	case e.protected(old, oldConf):
		return decide(models.MergeReject, ReasonProtected, old, c.Value, oldConf)
	case cat == models.CategoryOther:
		return decide(models.MergeKeep, ReasonNoDowngrade, old, c.Value, oldConf)
	case old == string(models.CategoryOther) || c.Confidence >= oldConf:
		return e.replace(res, f, old, c, ReasonUpgrade)
	default:
		return decide(models.MergeKeep, ReasonNotBetter, old, c.Value, oldConf)
	}
}

func (e *Engine) protected(category string, confidence float64) bool {
	return category != string(models.CategoryOther) && confidence >= e.thresholds.CategoryProtect
}

func (e *Engine) mergeAffectedSystem(res *MergeResult, c models.FieldCandidate, mc MergeContext) models.MergeDecision {
	const f = models.FieldAffectedSystem
	old, has := res.Intake.Get(f)
	oldConf := res.Confidence.Get(f)
	switch {
	case c.Value == "":
		return decide(models.MergeReject, ReasonInvalid, old, c.Value, c.Confidence)
	case !has:
		return e.replace(res, f, old, c, ReasonMissing)
	case mc.Intent.IsCorrection:
		return e.replace(res, f, old, c, ReasonCorrection)
	case IsContradiction(mc.Message):
		return e.replace(res, f, old, c, ReasonContradiction)
	}
	for _, existing := range strings.Split(old, ",") {
		if strings.EqualFold(strings.TrimSpace(existing), c.Value) {
			res.Confidence[f] = math.Max(oldConf, c.Confidence)
			return decide(models.MergeKeep, ReasonAlreadyListed, old, c.Value, res.Confidence[f])
		}
	}
	merged := old + ", " + c.Value
	conf := math.Max(oldConf, c.Confidence)
	e.set(res, f, merged, conf)
	return decide(models.MergeAppend, ReasonAppended, old, merged, conf)
}

func (e *Engine) mergeUrgency(res *MergeResult, c models.FieldCandidate, mc MergeContext) models.MergeDecision {
	const f = models.FieldUrgency
	old, has := res.Intake.Get(f)
	oldConf := res.Confidence.Get(f)
	u, ok := models.ParseUrgency(c.Value)
	if !ok {
		return decide(models.MergeReject, ReasonInvalid, old, c.Value, c.Confidence)
	}
	c.Value = string(u)
	if !has {
		return e.replace(res, f, old, c, ReasonMissing)
	}
	if old == c.Value {
		res.Confidence[f] = math.Max(oldConf, c.Confidence)
		return decide(models.MergeKeep, ReasonUnchanged, old, c.Value, res.Confidence[f])
	}
	if _, explicit := ExplicitUrgency(mc.Message); explicit {
		return e.replace(res, f, old, c, ReasonExplicit)
	}
	if mc.LastExpectedField == f {
		return e.replace(res, f, old, c, ReasonAnswered)
	}
	if mc.Intent.IsCorrection {
		return e.replace(res, f, old, c, ReasonCorrection)
	}
	if c.Confidence >= oldConf+e.thresholds.UrgencyMaterialGain {
		return e.replace(res, f, old, c, ReasonMaterialGain)
	}
	return decide(models.MergeKeep, ReasonNotBetter, old, c.Value, oldConf)
}

// inferCategory re-derives a weak or absent category from keyword evidence.
func (e *Engine) inferCategory(res *MergeResult, message string) (models.MergeDecision, bool) {
	old, has := res.Intake.Get(models.FieldCategory)
	oldConf := res.Confidence.Get(models.FieldCategory)
	if has && e.protected(old, oldConf) {
		return models.MergeDecision{}, false
	}
	problem, _ := res.Intake.Get(models.FieldProblem)
	system, _ := res.Intake.Get(models.FieldAffectedSystem)
	cat, ok := InferCategory(problem, system, message)
	if !ok || (string(cat) == old && oldConf >= InferredCategoryConfidence) {
		return models.MergeDecision{}, false
	}
	e.set(res, models.FieldCategory, string(cat), InferredCategoryConfidence)
	slog.Debug("Engine.inferCategory: category inferred", "category", cat)
	d := decide(models.MergeReplace, ReasonInferred, old, string(cat), InferredCategoryConfidence)
	d.Field = models.FieldCategory
	return d, true
}
