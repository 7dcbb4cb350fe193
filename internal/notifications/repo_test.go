package notifications

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
)

func setupNotificationsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  clinic_id TEXT NOT NULL,
  event_id TEXT,
  rule_id TEXT,
  type TEXT NOT NULL,
  source_module TEXT NOT NULL,
  target_modules TEXT NOT NULL,
  priority TEXT NOT NULL DEFAULT 'medium',
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  data TEXT,
  action_url TEXT,
  recipient_user_id TEXT,
  recipient_role TEXT,
  requires_acknowledgment INTEGER NOT NULL DEFAULT 0,
  read_at DATETIME,
  acknowledged_at DATETIME,
  expires_at DATETIME,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)

	t.Cleanup(func() {
		_ = db.Exec("DELETE FROM notifications").Error
	})
	return db
}

type notificationFixture struct {
	clinicID        uuid.UUID
	targetModules   []string
	recipientUserID *uuid.UUID
	recipientRole   *enums.UserRole
	createdAt       time.Time
	expiresAt       *time.Time
}

func insertNotification(t *testing.T, db *gorm.DB, fx notificationFixture) models.Notification {
	t.Helper()

	modules := fx.targetModules
	if len(modules) == 0 {
		modules = []string{string(enums.ModuleNotifications)}
	}
	createdAt := fx.createdAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := models.Notification{
		ID:              uuid.New(),
		ClinicID:        fx.clinicID,
		Type:            enums.EventPatientCreated,
		SourceModule:    enums.ModulePatients,
		TargetModules:   pq.StringArray(modules),
		Priority:        enums.NotificationPriorityMedium,
		Title:           "Novo Paciente",
		Message:         "mensagem",
		RecipientUserID: fx.recipientUserID,
		RecipientRole:   fx.recipientRole,
		ExpiresAt:       fx.expiresAt,
		CreatedAt:       createdAt,
	}
	require.NoError(t, NewRepository(db).Create(context.Background(), &row))
	return row
}

func reloadNotification(t *testing.T, db *gorm.DB, id uuid.UUID) models.Notification {
	t.Helper()
	var row models.Notification
	require.NoError(t, db.First(&row, "id = ?", id).Error)
	return row
}

func TestRepositoryMarkReadKeepsFirstTimestamp(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)
	clinicID := uuid.New()
	row := insertNotification(t, db, notificationFixture{clinicID: clinicID})

	first := time.Now().UTC().Truncate(time.Second)
	mark, err := repo.MarkRead(context.Background(), clinicID, row.ID, first)
	require.NoError(t, err)
	assert.True(t, mark.Updated)
	assert.True(t, mark.Found)

	afterFirst := reloadNotification(t, db, row.ID)
	require.NotNil(t, afterFirst.ReadAt)

	mark, err = repo.MarkRead(context.Background(), clinicID, row.ID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, mark.Updated, "second mark must not rewrite read_at")
	assert.True(t, mark.Found)

	afterSecond := reloadNotification(t, db, row.ID)
	require.NotNil(t, afterSecond.ReadAt)
	assert.True(t, afterFirst.ReadAt.Equal(*afterSecond.ReadAt))
}

func TestRepositoryAcknowledgeKeepsFirstTimestamp(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)
	clinicID := uuid.New()
	row := insertNotification(t, db, notificationFixture{clinicID: clinicID})

	first := time.Now().UTC().Truncate(time.Second)
	mark, err := repo.Acknowledge(context.Background(), clinicID, row.ID, first)
	require.NoError(t, err)
	assert.True(t, mark.Updated)

	afterFirst := reloadNotification(t, db, row.ID)
	require.NotNil(t, afterFirst.AcknowledgedAt)

	mark, err = repo.Acknowledge(context.Background(), clinicID, row.ID, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, mark.Updated)
	assert.True(t, mark.Found)

	afterSecond := reloadNotification(t, db, row.ID)
	require.NotNil(t, afterSecond.AcknowledgedAt)
	assert.True(t, afterFirst.AcknowledgedAt.Equal(*afterSecond.AcknowledgedAt))
}

func TestRepositoryMarkReadScopedToClinic(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)
	row := insertNotification(t, db, notificationFixture{clinicID: uuid.New()})

	mark, err := repo.MarkRead(context.Background(), uuid.New(), row.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, mark.Updated)
	assert.False(t, mark.Found, "a foreign clinic must not even see the row")

	reloaded := reloadNotification(t, db, row.ID)
	assert.Nil(t, reloaded.ReadAt)
}

func TestRepositoryListByModuleClinicIsolation(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)
	clinicA, clinicB := uuid.New(), uuid.New()
	insertNotification(t, db, notificationFixture{clinicID: clinicA})
	insertNotification(t, db, notificationFixture{clinicID: clinicB})

	rows, cursor, err := repo.ListByModule(context.Background(), listParams{
		ClinicID:     clinicA,
		TargetModule: enums.ModuleNotifications,
		Limit:        10,
	})
	require.NoError(t, err)
	assert.Nil(t, cursor)
	require.Len(t, rows, 1)
	assert.Equal(t, clinicA, rows[0].ClinicID)
}

func TestRepositoryListByModuleBroadcastMatching(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)
	clinicID := uuid.New()
	userA, userB := uuid.New(), uuid.New()
	adminRole := enums.RoleAdmin

	base := time.Now().UTC().Add(-time.Hour)
	broadcast := insertNotification(t, db, notificationFixture{clinicID: clinicID, createdAt: base})
	forUserA := insertNotification(t, db, notificationFixture{clinicID: clinicID, recipientUserID: &userA, createdAt: base.Add(time.Minute)})
	insertNotification(t, db, notificationFixture{clinicID: clinicID, recipientUserID: &userB, createdAt: base.Add(2 * time.Minute)})
	forAdmins := insertNotification(t, db, notificationFixture{clinicID: clinicID, recipientRole: &adminRole, createdAt: base.Add(3 * time.Minute)})

	rows, _, err := repo.ListByModule(context.Background(), listParams{
		ClinicID:        clinicID,
		TargetModule:    enums.ModuleNotifications,
		RecipientUserID: &userA,
		Limit:           10,
	})
	require.NoError(t, err)
	ids := map[uuid.UUID]bool{}
	for _, row := range rows {
		ids[row.ID] = true
	}
	assert.True(t, ids[broadcast.ID], "broadcast rows match every recipient")
	assert.True(t, ids[forUserA.ID])
	require.Len(t, rows, 2, "another user's rows must not leak")

	rows, _, err = repo.ListByModule(context.Background(), listParams{
		ClinicID:        clinicID,
		TargetModule:    enums.ModuleNotifications,
		RecipientUserID: &userA,
		RecipientRole:   &adminRole,
		Limit:           10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	ids = map[uuid.UUID]bool{}
	for _, row := range rows {
		ids[row.ID] = true
	}
	assert.True(t, ids[forAdmins.ID], "role axis must match role-scoped rows")
}

func TestRepositoryListByModuleFiltersTargetModule(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)
	clinicID := uuid.New()

	patientsOnly := insertNotification(t, db, notificationFixture{
		clinicID:      clinicID,
		targetModules: []string{string(enums.ModulePatients)},
	})
	insertNotification(t, db, notificationFixture{
		clinicID:      clinicID,
		targetModules: []string{string(enums.ModuleBilling)},
	})
	both := insertNotification(t, db, notificationFixture{
		clinicID:      clinicID,
		targetModules: []string{string(enums.ModulePatients), string(enums.ModuleBilling)},
	})

	rows, _, err := repo.ListByModule(context.Background(), listParams{
		ClinicID:     clinicID,
		TargetModule: enums.ModulePatients,
		Limit:        10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	ids := map[uuid.UUID]bool{}
	for _, row := range rows {
		ids[row.ID] = true
	}
	assert.True(t, ids[patientsOnly.ID])
	assert.True(t, ids[both.ID])
}

func TestRepositoryDeleteExpired(t *testing.T) {
	db := setupNotificationsTestDB(t)
	repo := NewRepository(db)
	clinicID := uuid.New()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	expired := insertNotification(t, db, notificationFixture{clinicID: clinicID, expiresAt: &past})
	keeper := insertNotification(t, db, notificationFixture{clinicID: clinicID, expiresAt: &future})
	insertNotification(t, db, notificationFixture{clinicID: clinicID})

	deleted, err := repo.DeleteExpired(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", expired.ID).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&models.Notification{}).Where("id = ?", keeper.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
