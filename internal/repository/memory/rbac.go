package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
)

type permissionRepo struct{ s *Store }

func (r *permissionRepo) Create(_ context.Context, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.permissions[name]; ok {
		return repository.ErrDuplicate
	}
	r.s.data.permissions[name] = r.s.now()
	return nil
}

func (r *permissionRepo) Exists(_ context.Context, name string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.data.permissions[name]
	return ok, nil
}

func (r *permissionRepo) Delete(_ context.Context, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.permissions[name]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.permissions, name)
	return nil
}

func (r *permissionRepo) List(_ context.Context) ([]*model.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.Permission, 0, len(r.s.data.permissions))
	for name, at := range r.s.data.permissions {
		out = append(out, &model.Permission{Name: name, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type roleRepo struct{ s *Store }

func (r *roleRepo) Create(_ context.Context, role *model.Role) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.data.roles {
		if existing.Name == role.Name {
			return repository.ErrDuplicate
		}
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := r.s.now()
	role.CreatedAt = now
	role.UpdatedAt = now
	r.s.data.roles[role.ID] = cloneRole(role)
	return nil
}

func (r *roleRepo) Get(_ context.Context, id uuid.UUID) (*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	role, ok := r.s.data.roles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneRole(role), nil
}

func (r *roleRepo) GetByName(_ context.Context, name string) (*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, role := range r.s.data.roles {
		if role.Name == name {
			return cloneRole(role), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *roleRepo) List(_ context.Context) ([]*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.sorted(func(*model.Role) bool { return true }), nil
}

func (r *roleRepo) sorted(keep func(*model.Role) bool) []*model.Role {
	out := make([]*model.Role, 0, len(r.s.data.roles))
	for _, role := range r.s.data.roles {
		if keep(role) {
			out = append(out, cloneRole(role))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *roleRepo) UpdatePermissions(_ context.Context, id uuid.UUID, permissions model.PermissionSet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	role, ok := r.s.data.roles[id]
	if !ok {
		return repository.ErrNotFound
	}
	role.Permissions = model.NewPermissionSet(permissions.Names()...)
	role.UpdatedAt = r.s.now()
	return nil
}

func (r *roleRepo) StripPermission(_ context.Context, name string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, role := range r.s.data.roles {
		if role.Permissions.Remove(name) {
			role.UpdatedAt = r.s.now()
			n++
		}
	}
	return n, nil
}

func (r *roleRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.roles[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.data.roles, id)
	for _, assigned := range r.s.data.userRoles {
		delete(assigned, id)
	}
	return nil
}

func (r *roleRepo) DetachFromUsers(_ context.Context, roleID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, assigned := range r.s.data.userRoles {
		delete(assigned, roleID)
	}
	return nil
}

func (r *roleRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	assigned := r.s.data.userRoles[userID]
	return r.sorted(func(role *model.Role) bool {
		_, ok := assigned[role.ID]
		return ok
	}), nil
}

type userRepo struct{ s *Store }

func (r *userRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.data.users {
		if u.Username == user.Username || (user.Email != "" && u.Email == user.Email) {
			return repository.ErrDuplicate
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = r.s.now()
	u := *user
	u.Roles = nil
	r.s.data.users[u.ID] = &u
	return nil
}

func (r *userRepo) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *userRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, u := range r.s.data.users {
		if u.Username == username || u.Email == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepo) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.data.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

func (r *userRepo) AssignRole(_ context.Context, userID, roleID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.users[userID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := r.s.data.roles[roleID]; !ok {
		return repository.ErrNotFound
	}
	if r.s.data.userRoles[userID] == nil {
		r.s.data.userRoles[userID] = map[uuid.UUID]struct{}{}
	}
	r.s.data.userRoles[userID][roleID] = struct{}{}
	return nil
}

func (r *userRepo) UnassignRole(_ context.Context, userID, roleID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.data.userRoles[userID], roleID)
	return nil
}
