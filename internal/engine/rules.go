package engine

// Check reports whether the local view allows an action. The backend stays
// authoritative; this only drives what a UI offers.
func Check(v View, a Action) error {
	switch a {
	case ActStartRoleAssignment:
		if v.Created == nil {
			return ErrWrongPhase
		}
		if !v.IsTitleCreator {
			return ErrNotTitleCreator
		}
		if !v.Created.HasTitle {
			return ErrTitleMissing
		}
		return nil

	case ActUpdateTitle:
		if v.Created == nil {
			return ErrWrongPhase
		}
		if !v.IsTitleCreator {
			return ErrNotTitleCreator
		}
		return nil

	case ActUpdateCharacter:
		if v.RoleAssignment == nil {
			return ErrWrongPhase
		}
		return nil

	case ActAssignRoles:
		if v.RoleAssignment == nil {
			return ErrWrongPhase
		}
		if !v.IsTitleCreator {
			return ErrNotTitleCreator
		}
		if !v.RoleAssignment.AllCharactersNamed {
			return ErrCharactersMissing
		}
		return nil

	case ActStartStorytelling:
		if v.RoleAssignment == nil {
			return ErrWrongPhase
		}
		if !v.IsTitleCreator {
			return ErrNotTitleCreator
		}
		if !v.RoleAssignment.AllCharactersNamed {
			return ErrCharactersMissing
		}
		if !v.RoleAssignment.AllRolesAssigned {
			return ErrRolesMissing
		}
		return nil

	case ActSendMessage:
		if v.Storytelling == nil {
			return ErrWrongPhase
		}
		if !v.Storytelling.InputEnabled {
			return ErrInputClosed
		}
		return nil

	case ActCompleteStory:
		if v.Storytelling == nil {
			return ErrWrongPhase
		}
		if !v.IsTitleCreator {
			return ErrNotTitleCreator
		}
		return nil

	case ActExport:
		if v.Completed == nil {
			return ErrWrongPhase
		}
		return nil
	}
	return ErrWrongPhase
}
