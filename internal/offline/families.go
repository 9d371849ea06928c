package offline

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/famcal/internal/model"
)

// CreateFamily creates a collection owned by userID. While the remote store
// is unreachable the family gets a local id and stays on this device until
// MigrateCollection promotes it.
func (a *Adapter) CreateFamily(ctx context.Context, name, userID string) (model.Family, error) {
	ve := &model.ValidationError{}
	if name == "" {
		ve.Add("name is required")
	}
	if userID == "" {
		ve.Add("created_by is required")
	}
	if err := ve.Err(); err != nil {
		return model.Family{}, err
	}

	f := model.Family{Name: name, CreatedBy: userID, CreatedAt: a.now()}
	local := func(ctx context.Context) (model.Family, error) {
		return a.createFamilyLocal(ctx, f, userID)
	}

	var out model.Family
	var err error
	if a.online(ctx) {
		out, err = withFallback(ctx, a, "create", model.RecordFamilies, "",
			func(ctx context.Context) (model.Family, error) {
				return a.createFamilyRemote(ctx, f, userID)
			}, local)
	} else {
		out, err = local(ctx)
	}
	if err != nil {
		return model.Family{}, err
	}
	a.notify(model.RecordFamilies, "create", out.ID)
	return out, nil
}

func (a *Adapter) createFamilyRemote(ctx context.Context, f model.Family, userID string) (model.Family, error) {
	f.ID = model.NewRemoteID()
	raw, err := a.remote.Insert(ctx, model.RecordFamilies, f)
	if err != nil {
		return model.Family{}, err
	}
	out, err := decodeInto[model.Family](raw)
	if err != nil {
		return model.Family{}, err
	}

	m := ownerMembership(out.ID, userID, f.CreatedAt)
	if _, err := a.remote.Insert(ctx, model.RecordFamilyMembers, m); err != nil {
		if derr := a.remote.Delete(ctx, model.RecordFamilies, out.ID); derr != nil {
			a.logger.Error("rollback family", "id", out.ID, "error", derr)
		}
		return model.Family{}, err
	}

	if err := a.local.Put(ctx, model.RecordFamilies, out); err != nil {
		return model.Family{}, fmt.Errorf("cache family: %w", err)
	}
	if err := a.local.Put(ctx, model.RecordFamilyMembers, m); err != nil {
		return model.Family{}, fmt.Errorf("cache family member: %w", err)
	}
	return out, nil
}

func (a *Adapter) createFamilyLocal(ctx context.Context, f model.Family, userID string) (model.Family, error) {
	f.ID = model.NewLocalID()
	if err := a.local.Put(ctx, model.RecordFamilies, f); err != nil {
		return model.Family{}, fmt.Errorf("create local family: %w", err)
	}
	m := ownerMembership(f.ID, userID, f.CreatedAt)
	m.ID = model.NewLocalID()
	if err := a.local.Put(ctx, model.RecordFamilyMembers, m); err != nil {
		return model.Family{}, fmt.Errorf("create local family member: %w", err)
	}
	return f, nil
}

func ownerMembership(familyID, userID string, at time.Time) model.FamilyMember {
	return model.FamilyMember{
		ID:        model.NewRemoteID(),
		FamilyID:  familyID,
		UserID:    userID,
		Role:      model.RoleOwner,
		CreatedAt: at,
	}
}
