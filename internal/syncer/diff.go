package syncer

import (
	"jobgrid/internal/grid"
	"jobgrid/internal/jobfile"
)

// Diff is the reconciliation plan between the jobs file and the grid.
// Orphans are managed objects on the grid with no record in the file.
type Diff struct {
	Create    []jobfile.Spec
	Update    []jobfile.Spec
	Unchanged []jobfile.Spec
	Orphans   []grid.LiveJob
}

func (d Diff) Empty() bool {
	return len(d.Create) == 0 && len(d.Update) == 0 && len(d.Orphans) == 0
}

// Compute compares the desired specs against the live grid view. A job
// counts as changed when its content hash or its kind differs; everything
// else about the live object is the runner's business.
func Compute(specs []jobfile.Spec, live []grid.LiveJob) Diff {
	byName := make(map[string]grid.LiveJob, len(live))
	for _, lj := range live {
		byName[lj.Name] = lj
	}

	var d Diff
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		seen[s.Name] = true
		lj, ok := byName[s.Name]
		switch {
		case !ok:
			d.Create = append(d.Create, s)
		case lj.Kind != s.Kind() || lj.SpecHash != jobfile.Hash(s):
			d.Update = append(d.Update, s)
		default:
			d.Unchanged = append(d.Unchanged, s)
		}
	}
	for _, lj := range live {
		if !seen[lj.Name] {
			d.Orphans = append(d.Orphans, lj)
		}
	}
	return d
}
