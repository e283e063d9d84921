package config

const ontimecarBase = "https://app.ontimecar.co/app/"

// builtinViews returns the column maps of the four back-office grids.
func builtinViews() map[string]ViewConfig {
	return map[string]ViewConfig{
		"agendamiento": {
			Description:      "Scheduled services; one record per identifier",
			URL:              ontimecarBase + "agendamiento/",
			IdentifierColumn: 4,
			Cardinality:      "single",
			SingleFallback:   "loose",
			NotFound:         "empty",
			DateField:        "col_3_fechaCita",
			Fields: []string{
				"col_0_acciones",
				"col_1",
				"col_2_sms",
				"col_3_fechaCita",
				"col_4_identificacionUsuario",
				"col_5_nombreUsuario",
				"col_6_telefonoUsuario",
				"col_7_zona",
				"col_8_ciudadOrigen",
				"col_9_direccionOrigen",
				"col_10_ciudadDestino",
				"col_11_ipsDestino",
				"col_12_cantidadServiciosAutorizados",
				"col_13_numeroAutorizacion",
				"col_14_fechaVigencia",
				"col_15_horaRecogida",
				"col_16_horaRetorno",
				"col_17_nombreAcompanante",
				"col_18_identificacionAcompanante",
				"col_19_parentesco",
				"col_20_telefonoAcompanante",
				"col_21_conductor",
				"col_22_celular",
				"col_23_observaciones",
				"col_24_estado",
			},
			Projection: []ProjectionField{
				{Name: "identificacion_usuario", Source: "col_4_identificacionUsuario", Digits: true},
				{Name: "fecha_cita", Source: "col_3_fechaCita"},
				{Name: "fecha_vigencia", Source: "col_14_fechaVigencia"},
				{Name: "direccion_origen", Source: "col_9_direccionOrigen"},
				{Name: "hora_recogida", Source: "col_15_horaRecogida"},
				{Name: "hora_retorno", Source: "col_16_horaRetorno"},
				{Name: "nombre_acompanante", Source: "col_17_nombreAcompanante"},
				{Name: "identificacion_acompanante", Source: "col_18_identificacionAcompanante"},
				{Name: "parentesco", Source: "col_19_parentesco"},
				{Name: "telefono_acompanante", Source: "col_20_telefonoAcompanante"},
				{Name: "observaciones", Source: "col_23_observaciones"},
				{Name: "ips_destino", Source: "col_11_ipsDestino"},
				{Name: "estado", Source: "col_24_estado"},
				{Name: "numero_autorizacion", Source: "col_13_numeroAutorizacion"},
				{Name: "cantidad_servicios_autorizados", Source: "col_12_cantidadServiciosAutorizados"},
				{Name: "nombre_usuario", Source: "col_5_nombreUsuario"},
				{Name: "telefono_usuario", Source: "col_6_telefonoUsuario"},
				{Name: "zona", Source: "col_7_zona"},
				{Name: "ciudad_origen", Source: "col_8_ciudadOrigen"},
				{Name: "ciudad_destino", Source: "col_10_ciudadDestino"},
			},
		},
		"programacion": {
			Description:      "Driver programming of services",
			URL:              ontimecarBase + "programacion/",
			IdentifierColumn: 5,
			Cardinality:      "list",
			DateField:        "col_2_fechaCita",
			Fields: []string{
				"col_0_exportar",
				"col_1_correoEnviado",
				"col_2_fechaCita",
				"col_3_nombrePaciente",
				"col_4_numeroTelAfiliado",
				"col_5_documento",
				"col_6_ciudadOrigen",
				"col_7_direccionOrigen",
				"col_8_vacia",
				"col_9_ciudadDestino",
				"col_10_direccionDestino",
				"col_11_horaRecogida",
				"col_12_horaRetorno",
				"col_13_conductor",
				"col_14_vacia",
				"col_15_eps",
				"col_16_observaciones",
				"col_17_vacia",
				"col_18_correo",
				"col_19_vacia",
				"col_20_zona",
				"col_21_autorizacion",
			},
		},
		"panel": {
			Description:      "Scheduling panel of issued authorizations",
			URL:              ontimecarBase + "agendamientos_panel/",
			IdentifierColumn: 6,
			Cardinality:      "list",
			DateField:        "col_1_fechaEmision",
			Fields: []string{
				"col_0_acciones",
				"col_1_fechaEmision",
				"col_2_fechaFinal",
				"col_3_tipoId",
				"col_4_nombreAfiliado",
				"col_5_clase",
				"col_6_numero",
				"col_7_estado",
				"col_8_codigo",
				"col_9_cantidad",
				"col_10_numeroPrescripcion",
				"col_11_ciudadOrigen",
				"col_12_direccionOrigen",
				"col_13_ciudadDestino",
				"col_14_direccionDestino",
				"col_15_eps",
				"col_16_cantidadServicios",
				"col_17_subirAutorizacion",
				"col_18_observaciones",
				"col_19_nombreAco",
				"col_20_parentesco",
				"col_21_telefonoAco",
				"col_22_tipoDocumentoAco",
				"col_23_numeroDocumentoAco",
				"col_24_agendamientosExistentes",
			},
		},
		"preautorizaciones": {
			Description:      "Pre-authorizations pending scheduling",
			URL:              ontimecarBase + "preautorizaciones/",
			IdentifierColumn: 8,
			Cardinality:      "list",
			DateField:        "col_2_fechaEmision",
			Fields: []string{
				"col_0_acciones",
				"col_1_agendamientoAutorizaciones",
				"col_2_fechaEmision",
				"col_3_fechaFinal",
				"col_4_tipoIdAfiliado",
				"col_5_nombreAfiliado",
				"col_6_clase",
				"col_7_vacia",
				"col_8_numero",
				"col_9_estado",
				"col_10_vacia",
				"col_11_codigo",
				"col_12_cantidad",
				"col_13_numeroPrescripcion",
				"col_14_ciudadOrigen",
				"col_15_direccionOrigen",
				"col_16_ciudadDestino",
				"col_17_direccionDestino",
				"col_18_cantidadEpsServicios",
				"col_19_subirAutorizacion",
				"col_20_vacia",
				"col_21_nombreAco",
				"col_22_idAco",
				"col_23_numeroAco",
				"col_24_telefonoAco",
				"col_25_parentesco",
				"col_26_vacia",
				"col_27_aco",
				"col_28_agendamientosExistentes",
			},
		},
	}
}
