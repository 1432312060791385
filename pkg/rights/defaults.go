package rights

// Domains of the default LMS catalog
const (
	DomainSystem      = "system"
	DomainUsers       = "users"
	DomainDepartments = "departments"
	DomainCourses     = "courses"
	DomainContent     = "content"
	DomainEnrollments = "enrollments"
	DomainReports     = "reports"
)

// DefaultAccessRights returns the seeded rights of a standard LMS install
func DefaultAccessRights() []AccessRight {
	return []AccessRight{
		{Key: "system:settings:read", Domain: DomainSystem, SensitivityLevel: 2, IsWildcardable: true, Description: "View platform settings"},
		{Key: "system:settings:write", Domain: DomainSystem, SensitivityLevel: 3, IsWildcardable: true, Description: "Change platform settings"},
		{Key: "system:roles:manage", Domain: DomainSystem, SensitivityLevel: 3, IsWildcardable: true, Description: "Create, update and delete custom roles"},
		{Key: "system:audit:read", Domain: DomainSystem, SensitivityLevel: 2, IsWildcardable: true, Description: "Read the authorization audit trail"},
		{Key: "system:escalation:bypass", Domain: DomainSystem, SensitivityLevel: 3, IsWildcardable: false, Description: "Skip secondary credential checks"},

		{Key: "users:read", Domain: DomainUsers, SensitivityLevel: 1, IsWildcardable: true, Description: "View user profiles"},
		{Key: "users:write", Domain: DomainUsers, SensitivityLevel: 2, IsWildcardable: true, Description: "Edit user profiles"},
		{Key: "users:impersonate", Domain: DomainUsers, SensitivityLevel: 3, IsWildcardable: false, Description: "Act as another user"},

		{Key: "departments:read", Domain: DomainDepartments, SensitivityLevel: 0, IsWildcardable: true, Description: "View departments"},
		{Key: "departments:write", Domain: DomainDepartments, SensitivityLevel: 1, IsWildcardable: true, Description: "Edit departments"},
		{Key: "departments:members:manage", Domain: DomainDepartments, SensitivityLevel: 2, IsWildcardable: true, Description: "Add and remove department members"},

		{Key: "courses:read", Domain: DomainCourses, SensitivityLevel: 0, IsWildcardable: true, Description: "View courses"},
		{Key: "courses:write", Domain: DomainCourses, SensitivityLevel: 0, IsWildcardable: true, Description: "Create and edit courses"},
		{Key: "courses:publish", Domain: DomainCourses, SensitivityLevel: 1, IsWildcardable: true, Description: "Publish courses"},
		{Key: "courses:delete", Domain: DomainCourses, SensitivityLevel: 1, IsWildcardable: true, Description: "Delete courses"},

		{Key: "content:courses:read", Domain: DomainContent, SensitivityLevel: 0, IsWildcardable: true, Description: "View course content"},
		{Key: "content:courses:write", Domain: DomainContent, SensitivityLevel: 0, IsWildcardable: true, Description: "Edit course content"},
		{Key: "content:media:upload", Domain: DomainContent, SensitivityLevel: 0, IsWildcardable: true, Description: "Upload media"},
		{Key: "content:scorm:import", Domain: DomainContent, SensitivityLevel: 1, IsWildcardable: true, Description: "Import packaged content"},

		{Key: "enrollments:read", Domain: DomainEnrollments, SensitivityLevel: 0, IsWildcardable: true, Description: "View enrollments"},
		{Key: "enrollments:write", Domain: DomainEnrollments, SensitivityLevel: 1, IsWildcardable: true, Description: "Enroll and unenroll learners"},

		{Key: "reports:read", Domain: DomainReports, SensitivityLevel: 1, IsWildcardable: true, Description: "View reports"},
		{Key: "reports:write", Domain: DomainReports, SensitivityLevel: 1, IsWildcardable: true, Description: "Build reports"},
		{Key: "reports:export", Domain: DomainReports, SensitivityLevel: 2, IsWildcardable: true, Description: "Export report data"},
	}
}

// DefaultCatalog builds a catalog from DefaultAccessRights
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultAccessRights())
	if err != nil {
		panic(err)
	}
	return c
}
