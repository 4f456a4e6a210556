package config

// Example is the configuration written by "clonectl init".
const Example = `# clonectl configuration
warehouse:
  driver: snowflake
  dsn: "clonectl@myorg-myaccount?warehouse=COMPUTE_WH&role=SYSADMIN"
  password_env: WAREHOUSE_PASSWORD

variables:
  TARGET_DATABASE: DEV_DATALAKE

cloning:
  default_clone_type: ZERO_COPY
  idempotent_skip: false

execution:
  failure_policy: abort-remaining
  step_timeout: 30m
  retry:
    max_attempts: 3
    initial_backoff: 5s
    max_backoff: 1m
    multiplier: 2

validation:
  row_count_tolerance: 0

databases:
  - source: PROD_DATALAKE
    target: ${TARGET_DATABASE}

rbac:
  existing_roles: [SYSADMIN]
  service_roles:
    - name: SR_DATA_READER
      description: Read access to the cloned data lake
      privileges:
        databases:
          - privilege: USAGE
            objects: ["${TARGET_DATABASE}"]
        schemas:
          - privilege: USAGE
            objects: ["${TARGET_DATABASE}.*"]
        tables:
          - privilege: SELECT
            objects: ["${TARGET_DATABASE}.*.*"]
  system_full_roles:
    - name: SFULL_DATA_ADMIN
      description: Full access to the cloned data lake
      privileges:
        databases:
          - privilege: ALL
            objects: ["${TARGET_DATABASE}"]
  role_hierarchy:
    - parent: SFULL_DATA_ADMIN
      children: [SR_DATA_READER]
    - parent: SYSADMIN
      children: [SFULL_DATA_ADMIN]
  user_assignments:
    - username: ANALYST
      roles: [SR_DATA_READER]

operation_templates:
  analytics:
    description: Clone the analytics schemas into a sandbox
    variables:
      TARGET_DATABASE: ANALYTICS_SANDBOX
    schemas:
      - source_db: PROD_DATALAKE
        source_schema: CURATED
        target_db: ${TARGET_DATABASE}
      - source_db: PROD_DATALAKE
        source_schema: MARTS
        target_db: ${TARGET_DATABASE}
`
