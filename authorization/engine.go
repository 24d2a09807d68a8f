package authorization

import (
	"context"

	"github.com/ecid-covid-it-support/tracking-api/apierrors"
	"github.com/ecid-covid-it-support/tracking-api/claims"
	"github.com/ecid-covid-it-support/tracking-api/roles"

	"github.com/pkg/errors"
)

type Action string

const (
	ActionCreate         Action = "create"
	ActionReadOne        Action = "read_one"
	ActionReadCollection Action = "read_collection"
	ActionUpdate         Action = "update"
	ActionDelete         Action = "delete"
)

type ResourceType string

const (
	ResourceInstitution   ResourceType = "institution"
	ResourceUser          ResourceType = "user"
	ResourceChild         ResourceType = "child"
	ResourceChildrenGroup ResourceType = "children_group"
	ResourceTracking      ResourceType = "tracking"
	ResourceEnvironment   ResourceType = "environment"
)

// Resource describes the target of a decision: its type plus whatever part
// of the owner chain the rule table needs.
type Resource struct {
	Type ResourceType

	// Id of the target entity, when the action addresses a single one.
	Id string

	// Role of the target user for ResourceUser / ResourceChild.
	Role string

	// OwnerId is the group owner for ResourceChildrenGroup and the owning
	// child for ResourceTracking.
	OwnerId string

	// InstitutionId owning a ResourceEnvironment.
	InstitutionId string
}

// Actor is the identity context of one request: constructed once from the
// verified claims and read-only afterwards.
type Actor struct {
	Id            string
	Role          string
	InstitutionId string
}

func ActorFromContext(ctx context.Context) Actor {
	return Actor{
		Id:            claims.GetUserId(ctx),
		Role:          claims.GetRole(ctx),
		InstitutionId: claims.GetInstitutionId(ctx),
	}
}

// Resolver answers association queries against the relationship graph.
// Implementations must tolerate dangling edges: a referenced-but-deleted
// entity is absent, never an error.
type Resolver interface {
	InstitutionOf(userId string) (string, error)
	IsChildOfFamily(childId, familyId string) (bool, error)
	IsChildInAnyGroupOf(childId, ownerId string) (bool, error)
	GroupsOwnedBy(ownerId string) ([]string, error)
	ChildrenOf(groupId string) ([]string, error)
}

// Scope bounds which records a collection query may return. The store only
// ever narrows it further, never widens it.
type Scope struct {
	// All grants unrestricted visibility (admin, application).
	All bool

	// UserId restricts to records the actor itself owns.
	UserId string

	// FamilyId restricts children to the family's child list.
	FamilyId string

	// ChildIds is an explicit allow-list (educator/health professional
	// group membership). May be empty, yielding an empty collection.
	ChildIds []string
}

// Engine is the stateless authorization decision function. Decide returns
// nil for Allow and an ApiError carrying the deny reason otherwise; lack of
// association is Forbidden, never NotFound.
type Engine struct {
	Resolver Resolver `inject:""`
}

func (e *Engine) Decide(actor Actor, action Action, resource Resource) error {
	switch actor.Role {
	case roles.ROLE_ADMIN:
		return e.decideAdmin(action, resource)
	case roles.ROLE_APPLICATION:
		return e.decideApplication(action, resource)
	case roles.ROLE_CHILD:
		return e.decideChild(actor, action, resource)
	case roles.ROLE_EDUCATOR, roles.ROLE_HEALTH_PROFESSIONAL:
		return e.decideGroupOwner(actor, action, resource)
	case roles.ROLE_FAMILY:
		return e.decideFamily(actor, action, resource)
	}
	return apierrors.ErrForbidden
}

// Admin bypasses association checks for every resource type; children
// groups are the one exception, where admins only read.
func (e *Engine) decideAdmin(action Action, resource Resource) error {
	if resource.Type == ResourceChildrenGroup {
		if action == ActionReadOne || action == ActionReadCollection {
			return nil
		}
		return apierrors.ErrForbidden
	}
	return nil
}

func (e *Engine) decideApplication(action Action, resource Resource) error {
	switch resource.Type {
	case ResourceInstitution:
		if action == ActionCreate || action == ActionReadOne || action == ActionReadCollection {
			return nil
		}
	case ResourceTracking, ResourceEnvironment:
		// Tracking data for any child / any institution.
		return nil
	}
	return apierrors.ErrForbidden
}

func (e *Engine) decideChild(actor Actor, action Action, resource Resource) error {
	switch resource.Type {
	case ResourceUser, ResourceChild:
		// Own profile only, and the role tag is never updatable.
		if resource.Id == actor.Id && (action == ActionReadOne || action == ActionUpdate) {
			return nil
		}
		// Collection reads are allowed but scoped down to the actor itself.
		if resource.Type == ResourceChild && action == ActionReadCollection && resource.Id == "" {
			return nil
		}
	case ResourceTracking:
		if resource.OwnerId == actor.Id {
			return nil
		}
	case ResourceEnvironment:
		if (action == ActionReadOne || action == ActionReadCollection) && resource.InstitutionId == actor.InstitutionId {
			return nil
		}
	}
	return apierrors.ErrForbidden
}

func (e *Engine) decideGroupOwner(actor Actor, action Action, resource Resource) error {
	switch resource.Type {
	case ResourceInstitution:
		if action == ActionReadOne || action == ActionReadCollection {
			return nil
		}
	case ResourceUser:
		if resource.Id == actor.Id && (action == ActionReadOne || action == ActionUpdate) {
			return nil
		}
	case ResourceChild:
		return e.requireGroupMembership(actor, action, resource.Id)
	case ResourceTracking:
		return e.requireGroupMembership(actor, action, resource.OwnerId)
	case ResourceChildrenGroup:
		if resource.OwnerId == actor.Id {
			return nil
		}
		if action == ActionReadCollection && resource.OwnerId == "" {
			return nil
		}
	case ResourceEnvironment:
		if (action == ActionReadOne || action == ActionReadCollection) && resource.InstitutionId == actor.InstitutionId {
			return nil
		}
	}
	return apierrors.ErrForbidden
}

// Read-only, and only while some group owned by the actor contains the
// child. Flipping the association flips the decision on the next call.
func (e *Engine) requireGroupMembership(actor Actor, action Action, childId string) error {
	if action != ActionReadOne && action != ActionReadCollection {
		return apierrors.ErrForbidden
	}
	// A collection read over all children is allowed; ScopeFor narrows it
	// to the actor's association set.
	if childId == "" && action == ActionReadCollection {
		return nil
	}
	ok, err := e.Resolver.IsChildInAnyGroupOf(childId, actor.Id)
	if err != nil {
		return errors.Wrap(err, "failed to resolve group membership")
	}
	if !ok {
		return apierrors.ErrForbidden
	}
	return nil
}

func (e *Engine) decideFamily(actor Actor, action Action, resource Resource) error {
	switch resource.Type {
	case ResourceInstitution:
		if action == ActionReadOne || action == ActionReadCollection {
			return nil
		}
	case ResourceUser:
		if resource.Id == actor.Id && (action == ActionReadOne || action == ActionUpdate) {
			return nil
		}
	case ResourceChild:
		return e.requireFamilyLink(actor, action, resource.Id)
	case ResourceTracking:
		return e.requireFamilyLink(actor, action, resource.OwnerId)
	case ResourceEnvironment:
		if (action == ActionReadOne || action == ActionReadCollection) && resource.InstitutionId == actor.InstitutionId {
			return nil
		}
	}
	return apierrors.ErrForbidden
}

func (e *Engine) requireFamilyLink(actor Actor, action Action, childId string) error {
	if action != ActionReadOne && action != ActionReadCollection {
		return apierrors.ErrForbidden
	}
	if childId == "" && action == ActionReadCollection {
		return nil
	}
	ok, err := e.Resolver.IsChildOfFamily(childId, actor.Id)
	if err != nil {
		return errors.Wrap(err, "failed to resolve family link")
	}
	if !ok {
		return apierrors.ErrForbidden
	}
	return nil
}

// ScopeFor converts an Allow decision on a collection read into the filter
// predicate bounding what the actor may see. Callers must have decided
// ActionReadCollection first for resource types with role restrictions.
func (e *Engine) ScopeFor(actor Actor, resourceType ResourceType) (Scope, error) {
	switch resourceType {
	case ResourceChild:
		switch actor.Role {
		case roles.ROLE_ADMIN, roles.ROLE_APPLICATION:
			return Scope{All: true}, nil
		case roles.ROLE_CHILD:
			return Scope{UserId: actor.Id}, nil
		case roles.ROLE_FAMILY:
			return Scope{FamilyId: actor.Id}, nil
		case roles.ROLE_EDUCATOR, roles.ROLE_HEALTH_PROFESSIONAL:
			childIds, err := e.visibleChildren(actor.Id)
			if err != nil {
				return Scope{}, err
			}
			return Scope{ChildIds: childIds}, nil
		}
	case ResourceChildrenGroup:
		if actor.Role == roles.ROLE_ADMIN {
			return Scope{All: true}, nil
		}
		return Scope{UserId: actor.Id}, nil
	default:
		return Scope{All: true}, nil
	}
	return Scope{}, apierrors.ErrForbidden
}

// visibleChildren unions the members of every group the owner holds. The
// allow-list is deduplicated; children may belong to multiple groups.
func (e *Engine) visibleChildren(ownerId string) ([]string, error) {
	groupIds, err := e.Resolver.GroupsOwnedBy(ownerId)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve owned groups")
	}

	seen := make(map[string]bool)
	childIds := make([]string, 0)
	for _, groupId := range groupIds {
		members, err := e.Resolver.ChildrenOf(groupId)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve group members")
		}
		for _, childId := range members {
			if !seen[childId] {
				seen[childId] = true
				childIds = append(childIds, childId)
			}
		}
	}
	return childIds, nil
}
