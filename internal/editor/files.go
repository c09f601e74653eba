package editor

import (
	"macroctl/internal/persistence"
)

// Export writes the list to path. The format follows the extension.
func (e *Editor) Export(path string) error {
	steps := e.store.Steps()
	if err := persistence.Export(path, steps, e.now()); err != nil {
		e.notifier.Error("Export failed: %v", err)
		return err
	}
	e.notifier.Success("Exported %d steps to %s", len(steps), path)
	return nil
}

// Import replaces the list with the steps stored at path. On failure the
// list is left untouched.
func (e *Editor) Import(path string) (int, error) {
	doc, err := persistence.Import(path)
	if err != nil {
		e.notifier.Error("Import failed: %v", err)
		return 0, err
	}

	e.store.Replace(doc.Steps)
	e.store.ClearSelection()
	if len(doc.Steps) == 0 {
		e.notifier.Info("Imported an empty step list from %s", path)
	} else {
		e.notifier.Success("Imported %d steps from %s", len(doc.Steps), path)
	}
	return len(doc.Steps), e.syncList()
}
