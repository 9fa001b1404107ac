package gitlab

// PermissionsForForTest exposes permissionsFor.
var PermissionsForForTest = permissionsFor
