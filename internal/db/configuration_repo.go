package db

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"eventrelay/internal/types"
)

// ConfigurationRepository reads the integration configurations that route an
// organization's events to its destinations.
type ConfigurationRepository struct {
	db DBTX
}

// NewConfigurationRepository creates a ConfigurationRepository.
func NewConfigurationRepository(db DBTX) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// configurationColumns must match the scan order in scanConfiguration.
const configurationColumns = `oic.id, oi.id, oi.organization_id, oi.type, oic.event_type,
	oic.configuration, oi.configuration, oic.template, oic.filters`

const configurationFrom = `
	FROM organization_integration_configuration oic
	JOIN organization_integration oi ON oi.id = oic.organization_integration_id
	WHERE oi.organization_id = $1 AND oi.type = $2`

func scanConfiguration(row pgx.Row) (*types.OrganizationIntegrationConfigurationDetails, error) {
	var (
		d                types.OrganizationIntegrationConfigurationDetails
		integrationType  string
		eventType        *int32
		configuration    []byte
		integrationCfg   []byte
		template, filter *string
	)
	err := row.Scan(
		&d.ID,
		&d.OrganizationIntegrationID,
		&d.OrganizationID,
		&integrationType,
		&eventType,
		&configuration,
		&integrationCfg,
		&template,
		&filter,
	)
	if err != nil {
		return nil, err
	}

	d.IntegrationType = types.IntegrationType(integrationType)
	if eventType != nil {
		et := types.EventType(*eventType)
		d.EventType = &et
	}
	if len(configuration) > 0 {
		d.Configuration = json.RawMessage(configuration)
	}
	if len(integrationCfg) > 0 {
		d.IntegrationConfiguration = json.RawMessage(integrationCfg)
	}
	if template != nil {
		d.Template = *template
	}
	if filter != nil {
		d.Filters = *filter
	}
	return &d, nil
}

// GetManyByEventType returns the configurations bound to exactly eventType.
func (r *ConfigurationRepository) GetManyByEventType(ctx context.Context, orgID uuid.UUID, kind types.IntegrationType, eventType types.EventType) ([]types.OrganizationIntegrationConfigurationDetails, error) {
	return r.queryMany(ctx,
		`SELECT `+configurationColumns+configurationFrom+` AND oic.event_type = $3
		 ORDER BY oic.id`,
		orgID, string(kind), int32(eventType),
	)
}

// GetManyWildcard returns the configurations that apply to every event type.
func (r *ConfigurationRepository) GetManyWildcard(ctx context.Context, orgID uuid.UUID, kind types.IntegrationType) ([]types.OrganizationIntegrationConfigurationDetails, error) {
	return r.queryMany(ctx,
		`SELECT `+configurationColumns+configurationFrom+` AND oic.event_type IS NULL
		 ORDER BY oic.id`,
		orgID, string(kind),
	)
}

func (r *ConfigurationRepository) queryMany(ctx context.Context, sql string, args ...any) ([]types.OrganizationIntegrationConfigurationDetails, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query integration configurations", err)
	}
	defer rows.Close()

	var out []types.OrganizationIntegrationConfigurationDetails
	for rows.Next() {
		d, err := scanConfiguration(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan integration configuration", err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating integration configurations", err)
	}
	return out, nil
}
