package tree

import "github.com/loreleaf/loreleaf/pkg/models"

// MoveDenial explains why a move was rejected.
type MoveDenial string

const (
	MoveOK                MoveDenial = ""
	MoveDenySourceNil     MoveDenial = "no source"
	MoveDenyDestNil       MoveDenial = "no destination"
	MoveDenySourceVirtual MoveDenial = "source is a collection root"
	MoveDenyDestVirtual   MoveDenial = "destination is a collection root"
	MoveDenyDestNotFolder MoveDenial = "destination is not a folder"
	MoveDenyNoOp          MoveDenial = "already in destination"
	MoveDenyCycle         MoveDenial = "cannot move a folder into itself"
)

// CanMove reports whether moving source under destination is a legal
// structural mutation. Pure and side-effect free, safe to call on every
// drag-hover tick.
func CanMove(source, destination *models.Node) bool {
	return CheckMove(source, destination) == MoveOK
}

// CheckMove is CanMove with a reason for the rejection.
func CheckMove(source, destination *models.Node) MoveDenial {
	if source == nil {
		return MoveDenySourceNil
	}
	if destination == nil {
		return MoveDenyDestNil
	}
	if source.Virtual {
		return MoveDenySourceVirtual
	}
	if destination.Virtual {
		return MoveDenyDestVirtual
	}
	if !destination.IsFolder() {
		return MoveDenyDestNotFolder
	}
	if source.ParentID == destination.ID {
		return MoveDenyNoOp
	}
	if source.IsFolder() && IsDescendant(source, destination.ID) {
		return MoveDenyCycle
	}
	return MoveOK
}
