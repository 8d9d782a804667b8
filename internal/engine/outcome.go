package engine

// Outcome is what HandleLine did with one input line.
type Outcome uint8

const (
	// OutcomeInvalid: the line was not an IP address.
	OutcomeInvalid Outcome = iota
	// OutcomeAllowlisted: the address is exempt from limiting.
	OutcomeAllowlisted
	// OutcomePassed: the key is within its quota.
	OutcomePassed
	// OutcomeSuppressed: the key is over quota but a ban is already in force.
	OutcomeSuppressed
	// OutcomeBanned: a ban was handed to the sink.
	OutcomeBanned
	// OutcomeBanFailed: the sink rejected the ban.
	OutcomeBanFailed
)

var outcomeNames = [...]string{
	OutcomeInvalid:     "invalid",
	OutcomeAllowlisted: "allowlisted",
	OutcomePassed:      "passed",
	OutcomeSuppressed:  "suppressed",
	OutcomeBanned:      "banned",
	OutcomeBanFailed:   "ban_failed",
}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}
