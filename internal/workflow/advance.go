package workflow

// FirstStage returns the lowest stage number that has at least one approver.
func FirstStage(participants []Participant) (int, bool) {
	first, found := 0, false
	for _, p := range participants {
		if p.Role != RoleApprover || p.Stage <= 0 {
			continue
		}
		if !found || p.Stage < first {
			first, found = p.Stage, true
		}
	}
	return first, found
}

// Advance computes the approval's status and current stage after the
// participants' decisions are applied. A rejection on the current stage
// returns the approval; a fully approved stage hands over to the next stage
// with approvers, repeating while that stage is already decided. Running out
// of stages approves the approval. Stages without approvers are skipped.
//
// Approvals outside review are returned unchanged.
func Advance(approval Approval, participants []Participant) (ApprovalStatus, int) {
	if approval.Status != StatusReview {
		return approval.Status, approval.CurrentStage
	}
	stages := groupStages(participants)
	current := approval.CurrentStage
	for {
		switch blockingStatus(stages, current) {
		case StageRejected:
			return StatusReturned, current
		case StagePending:
			return StatusReview, current
		}
		next, ok := nextApproverStage(stages, current)
		if !ok {
			return StatusApproved, current
		}
		current = next
	}
}

func blockingStatus(stages []Stage, number int) StageStatus {
	for _, stage := range stages {
		if stage.Number != number {
			continue
		}
		if len(stage.Approvers) == 0 {
			return StageApproved
		}
		return rawStatus(stage.Approvers)
	}
	return StageApproved
}

func nextApproverStage(stages []Stage, after int) (int, bool) {
	for _, stage := range stages {
		if stage.Number > after && len(stage.Approvers) > 0 {
			return stage.Number, true
		}
	}
	return 0, false
}
