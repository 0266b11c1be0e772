package contract

// Topics of the domain events written to the timeline and the outbox. One is
// emitted per successful transition.
const (
	TopicCreated           = "contract.created"
	TopicFunded            = "contract.funded"
	TopicNDASigned         = "contract.nda_signed"
	TopicSubmitted         = "milestone.submitted"
	TopicRevisionRequested = "milestone.revision_requested"
	TopicApproved          = "milestone.approved"
	TopicCompleted         = "contract.completed"
	TopicDisputed          = "contract.disputed"
)
