package index

import "tig/internal/errors"

// ScheduleAdd marks paths as about to become versioned: an index entry
// with stage=add and no blob yet, picked up as an add-commitable by the
// commit pipeline. Grounded on got_worktree_schedule_add.
func (idx *Index) ScheduleAdd(paths []string) error {
    for _, p := range paths {
        e := idx.Get(p)
        if e == nil {
            if err := idx.Add(&Entry{Path: p, Stage: StageAdd, FileType: TypeRegular}); err != nil {
                return err
            }
            continue
        }
        if e.HasBlob() {
            return errors.New(errors.FileStatus, "already versioned: %s", p).WithPath(p)
        }
        e.Stage = StageAdd
    }
    return nil
}

// ScheduleDelete marks existing paths for removal at next commit. When
// keepOnDisk is false the caller is expected to have already removed
// the file; DeletedFromDisk records that fact for the journal.
// Grounded on got_worktree_schedule_delete.
func (idx *Index) ScheduleDelete(paths []string, keepOnDisk bool) error {
    for _, p := range paths {
        e := idx.Get(p)
        if e == nil {
            return errors.New(errors.BadPath, "not versioned: %s", p).WithPath(p)
        }
        e.Stage = StageDelete
        e.StagedBlobID = ""
        if !keepOnDisk {
            e.DeletedFromDisk = true
        }
    }
    return nil
}
