// Package conflict implements the per-reference per-address conflict
// detector (spec section 4.6): it records, per active task tag-instance,
// the most recent write to each (reference, address) pair, or the first
// read when the pair has not been written, and emits a
// Conflict when two distinct sibling tasks touch the same location with
// at least one writer.
package conflict

import "github.com/tracecore/tracecore/internal/model"

type entry struct {
	accessID   model.AccessID
	accessType model.AccessType
}

// Conflict is one detected pair, ready for the Writer's insert_conflict.
type Conflict struct {
	TagInstance1 model.TagInstanceID
	TagInstance2 model.TagInstanceID
	Access1      model.AccessID
	Access2      model.AccessID
}

// Detector holds tag_accessing_reference for one thread: reference_id ->
// address -> tag_instance_id -> (access_id, access_type). It also tracks
// container parentage so a task's direct parent is excluded from
// conflict emission.
type Detector struct {
	table  map[model.ReferenceID]map[uint64]map[model.TagInstanceID]entry
	parent map[model.TagInstanceID]model.TagInstanceID
}

// New constructs an empty Detector.
func New() *Detector {
	return &Detector{
		table:  make(map[model.ReferenceID]map[uint64]map[model.TagInstanceID]entry),
		parent: make(map[model.TagInstanceID]model.TagInstanceID),
	}
}

// RegisterParent records tag's direct container parent at task-open time,
// so the exclusion check in Record can consult it even after the parent
// TagInstance itself is long closed.
func (d *Detector) RegisterParent(tag, parentTag model.TagInstanceID) {
	d.parent[tag] = parentTag
}

// Record applies one access by tag-instance tag against reference ref at
// address addr, returning any conflicts it produces against other active
// task tag-instances already recorded at that (reference, address).
func (d *Detector) Record(ref model.ReferenceID, addr uint64, tag model.TagInstanceID, accessID model.AccessID, accessType model.AccessType) []Conflict {
	byAddr, ok := d.table[ref]
	if !ok {
		byAddr = make(map[uint64]map[model.TagInstanceID]entry)
		d.table[ref] = byAddr
	}

	byTag, ok := byAddr[addr]
	if !ok {
		byTag = make(map[model.TagInstanceID]entry)
		byAddr[addr] = byTag
	}

	prior, hadPrior := byTag[tag]

	shouldRecord := accessType == model.AccessWrite || !hadPrior
	if shouldRecord {
		byTag[tag] = entry{accessID: accessID, accessType: accessType}
	}

	if len(byTag) <= 1 {
		return nil
	}

	var conflicts []Conflict

	newEntry := entry{accessID: accessID, accessType: accessType}
	if !shouldRecord {
		newEntry = prior
	}

	for otherTag, otherEntry := range byTag {
		if otherTag == tag {
			continue
		}

		if d.isDirectParent(tag, otherTag) || d.isDirectParent(otherTag, tag) {
			continue
		}

		if newEntry.accessType != model.AccessWrite && otherEntry.accessType != model.AccessWrite {
			continue
		}

		conflicts = append(conflicts, Conflict{
			TagInstance1: tag,
			TagInstance2: otherTag,
			Access1:      newEntry.accessID,
			Access2:      otherEntry.accessID,
		})
	}

	return conflicts
}

func (d *Detector) isDirectParent(parent, child model.TagInstanceID) bool {
	p, ok := d.parent[child]

	return ok && p == parent
}

// CloseScope removes every entry belonging to a tag-instance in
// descendantTags from every (reference, address) bucket, the scope-close
// rule applied when a Section/Pipeline container closes.
func (d *Detector) CloseScope(descendantTags []model.TagInstanceID) {
	set := make(map[model.TagInstanceID]bool, len(descendantTags))
	for _, t := range descendantTags {
		set[t] = true
		delete(d.parent, t)
	}

	for ref, byAddr := range d.table {
		for addr, byTag := range byAddr {
			for tag := range byTag {
				if set[tag] {
					delete(byTag, tag)
				}
			}

			if len(byTag) == 0 {
				delete(byAddr, addr)
			}
		}

		if len(byAddr) == 0 {
			delete(d.table, ref)
		}
	}
}
