package workflow

// CanDecide reports whether viewerID may submit a decision on stage right
// now: the approval is in review, the stage is the current one, and the
// viewer is an approver on it who has not decided yet.
func CanDecide(viewerID int64, approval Approval, stage Stage) bool {
	if approval.Status != StatusReview || stage.Number != approval.CurrentStage {
		return false
	}
	for _, approver := range stage.Approvers {
		if approver.UserID == viewerID && approver.Decision == DecisionNone {
			return true
		}
	}
	return false
}

// ActionableStage returns the stage the viewer can act on, if any. Only the
// current stage can qualify, so there is at most one.
func ActionableStage(viewerID int64, approval Approval, stages []Stage) (Stage, bool) {
	for _, stage := range stages {
		if CanDecide(viewerID, approval, stage) {
			return stage, true
		}
	}
	return Stage{}, false
}
