package domain

import "time"

// DefaultUrgentAfter is how long a lead may stay "new" before it is urgent.
const DefaultUrgentAfter = 24 * time.Hour

// Tasks is the derived work view over the cached leads.
type Tasks struct {
	// Urgent holds "new" leads created more than urgentAfter ago.
	Urgent []Lead `json:"urgent"`
	// InProgress holds leads marked "success".
	InProgress []Lead `json:"inProgress"`
}

// BuildTasks derives the tasks view. Leads whose creation time cannot be
// parsed are never urgent.
func BuildTasks(leads []Lead, now time.Time, urgentAfter time.Duration) Tasks {
	cutoff := now.Add(-urgentAfter)
	tasks := Tasks{Urgent: []Lead{}, InProgress: []Lead{}}

	for _, l := range leads {
		switch l.Status {
		case StatusNew:
			created, ok := l.Created()
			if ok && created.Before(cutoff) {
				tasks.Urgent = append(tasks.Urgent, l)
			}
		case StatusSuccess:
			tasks.InProgress = append(tasks.InProgress, l)
		}
	}
	return tasks
}

// FilterByStatus returns the leads with the given status, preserving order.
func FilterByStatus(leads []Lead, status Status) []Lead {
	out := make([]Lead, 0, len(leads))
	for _, l := range leads {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}
