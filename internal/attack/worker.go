package attack

import (
	"context"
	"log/slog"
	"time"

	"advsandbox/internal/model"
)

// run drives one attack through its stages. It owns the record from the
// moment the launch response is sent until a terminal status is
// persisted, and persists every stage transition so status polls
// observe real progress. It never returns an error: failures are
// recorded on the record itself.
func (s *Service) run(rec *Record, req *LaunchRequest) {
	// Workers outlive the launch request; Close drains them explicitly.
	ctx := context.Background()
	logger := slog.With("attackId", rec.ID, "modelId", rec.ModelID)
	start := time.Now()

	err := s.execute(ctx, rec, req, logger)
	if err != nil {
		// Both terminal statuses carry a completion timestamp.
		now := time.Now().UTC()
		rec.Status = StatusFailed
		rec.Error = err.Error()
		rec.CompletedAt = &now
		rec.UpdatedAt = now
		if updateErr := s.store.Update(ctx, rec); updateErr != nil {
			logger.Error("Failed to persist attack failure", "error", updateErr)
		}
		logger.Error("Attack failed", "stage", rec.Stage, "error", err)
	} else {
		logger.Info("Attack completed", "success", rec.AttackSuccess, "durationMs", time.Since(start).Milliseconds())
	}

	if s.metrics != nil {
		s.metrics.RecordAttackFinished(ctx, rec.ModelID, err != nil, time.Since(start).Seconds())
	}
	if s.notifier != nil && req.CallbackURL != "" {
		s.notifier.Notify(rec, req.CallbackURL)
	}
}

// execute performs the staged pipeline and leaves rec in the completed
// state on success. On error the caller marks the record failed; the
// stage recorded at the time of the error is preserved.
func (s *Service) execute(ctx context.Context, rec *Record, req *LaunchRequest, logger *slog.Logger) error {
	start := time.Now()

	rec.Status = StatusInProgress
	rec.Stage = StageInitializing
	rec.Progress = ProgressInitializing
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, rec); err != nil {
		return err
	}

	handle, err := s.models.GetOrLoad(ctx, rec.ModelID, s.loader)
	if err != nil {
		return err
	}

	original, err := s.predict(ctx, handle, req.InputData)
	if err != nil {
		return err
	}
	logger.Info("Baseline prediction obtained", "prediction", original.Label, "confidence", original.Confidence)

	rec.Stage = StageGenerating
	rec.Progress = ProgressGenerating
	rec.OriginalPrediction = original.Label
	rec.OriginalConfidence = original.Confidence
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, rec); err != nil {
		return err
	}

	g := goal{original: original.Label}
	if req.TargetLabel != "" {
		g.targeted = true
		g.target = req.TargetLabel
	}
	found, err := s.searchAdversarial(ctx, handle, req, g)
	if err != nil {
		return err
	}

	adversarial := found.Text
	if adversarial == "" {
		adversarial = req.InputData
		logger.Warn("No adversarial candidate found")
	}

	rec.Stage = StageEvaluating
	rec.Progress = ProgressEvaluating
	rec.AdversarialExample = adversarial
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, rec); err != nil {
		return err
	}

	// If the search never changed the input there is nothing to
	// re-evaluate; the attack is a failure by definition.
	prediction := original
	success := false
	if adversarial != req.InputData {
		prediction, err = s.predict(ctx, handle, adversarial)
		if err != nil {
			return err
		}
		success = g.met(prediction.Label)
		logger.Info("Adversarial output evaluated",
			"prediction", prediction.Label, "confidence", prediction.Confidence, "success", success)
	}

	now := time.Now().UTC()
	rec.Status = StatusCompleted
	rec.Stage = StageCompleted
	rec.Progress = ProgressCompleted
	rec.AdversarialPrediction = prediction.Label
	rec.AdversarialConfidence = prediction.Confidence
	rec.AttackSuccess = success
	rec.PerturbationDetails = map[string]any{
		"original_text_len":    len(req.InputData),
		"adversarial_text_len": len(adversarial),
		"num_words_perturbed":  found.NumPerturbed,
		"diff":                 found.Diff,
	}
	rec.Metrics = map[string]any{
		"attack_time_seconds": time.Since(start).Seconds(),
	}
	rec.CompletedAt = &now
	rec.UpdatedAt = now
	return s.store.Update(ctx, rec)
}

func (s *Service) predict(ctx context.Context, handle model.Handle, input string) (model.Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.inferenceTimeout)
	defer cancel()
	return handle.Predict(ctx, input)
}
