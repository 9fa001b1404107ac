package github

// PermissionsForForTest exposes permissionsFor.
var PermissionsForForTest = permissionsFor
